package event

import "github.com/hashlattice/platform/internal/xerrors"

var errSeqParentMismatch = xerrors.New(xerrors.Validation, "creator_seq == 0 must hold iff the event has no self-parent")
var errBadSignature = xerrors.New(xerrors.Validation, "event signature does not verify under the creator's public key")

func errUnknownParent(which string) error {
	return xerrors.New(xerrors.Validation, "event declares a "+which+"-parent hash that does not resolve to a known event")
}
