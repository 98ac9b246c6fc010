package rla

import (
	"fmt"

	"github.com/goliatone/go-rla/layering"
)

// IntentKind names a locally initiated request.
type IntentKind string

const (
	IntentBoardSignedIn          IntentKind = "board_signed_in"
	IntentBoardSignedOut         IntentKind = "board_signed_out"
	IntentManifestUploadOk       IntentKind = "manifest_upload_ok"
	IntentManifestUploadFail     IntentKind = "manifest_upload_fail"
	IntentCVRImportOk            IntentKind = "cvr_import_ok"
	IntentCVRImportFail          IntentKind = "cvr_import_fail"
	IntentRoundStart             IntentKind = "round_start"
	IntentRoundComplete          IntentKind = "round_complete"
	IntentAuditedRecordSubmitted IntentKind = "audited_record_submitted"
	IntentAdvance                IntentKind = "advance"
)

// Intent is a request to change local state. Target is the machine state the
// intent moves to; when empty a default is derived from the current state.
type Intent struct {
	Kind   IntentKind
	Target ASMState
	File   *UploadedFile
	Board  *AuditBoard
	Round  *Round
	CVRID  int
	Record AuditedRecord
	Reason string
}

// ApplyIntent validates intent against the registry and returns the updated
// state. On any error state is returned unchanged. Failure intents only set
// the matching alert; they never touch a machine state.
func ApplyIntent(state AppState, actor Actor, intent Intent) (AppState, error) {
	switch state.Actor {
	case ActorCounty:
		if state.County == nil || (actor != ActorCounty && actor != ActorAuditBoard) {
			return state, fmt.Errorf("%w: %s intent on %s state", ErrActorMismatch, actor, state.Actor)
		}
	case ActorDOS:
		if state.DOS == nil || actor != ActorDOS {
			return state, fmt.Errorf("%w: %s intent on %s state", ErrActorMismatch, actor, state.Actor)
		}
	default:
		return state, &ParseError{Kind: ErrUnknownActorKind, Path: "type", Err: errActor(state.Actor)}
	}

	next := layering.Clone(state)
	var err error
	if next.Actor == ActorDOS {
		err = applyDOSIntent(next.DOS, intent)
	} else {
		err = applyCountyIntent(next.County, actor, intent)
	}
	if err != nil {
		return state, err
	}
	return next, nil
}

func applyCountyIntent(county *CountyState, actor Actor, intent Intent) error {
	switch intent.Kind {
	case IntentManifestUploadFail:
		county.ManifestAlert = AlertFail
		return nil
	case IntentCVRImportFail:
		county.CVRImportAlert = AlertFail
		county.Data.CVRImportStatus = &CVRImportStatus{State: ImportFailed, ErrorMessage: intent.Reason}
		return nil
	case IntentManifestUploadOk, IntentCVRImportOk:
		if err := requireFile(intent); err != nil {
			return err
		}
	case IntentRoundComplete:
		round := county.Data.CurrentRound
		if round == nil {
			return fmt.Errorf("%w: %s", ErrNoActiveRound, intent.Kind)
		}
		if round.BallotsRemaining > 0 {
			return fmt.Errorf("%w: %d ballots remaining in round %d", ErrRoundNotComplete, round.BallotsRemaining, round.Number)
		}
	case IntentAuditedRecordSubmitted:
		if err := validateSubmission(county, intent); err != nil {
			return err
		}
	case IntentRoundStart:
		if intent.Round != nil {
			if err := validateRound("round", intent.Round); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidIntent, err)
			}
			if current := county.Data.CurrentRound; current != nil && intent.Round.Number <= current.Number {
				return fmt.Errorf("%w: round %d does not follow round %d", ErrInvalidIntent, intent.Round.Number, current.Number)
			}
		}
	case IntentBoardSignedIn, IntentBoardSignedOut, IntentAdvance:
	default:
		return fmt.Errorf("%w: unknown intent %q", ErrInvalidIntent, intent.Kind)
	}

	machine := &county.ASM
	if actor == ActorAuditBoard {
		machine = &county.AuditBoardASM
	}
	target := intent.Target
	if target == "" {
		target = defaultTarget(actor, intent.Kind, *machine)
	}
	if target == "" {
		return fmt.Errorf("%w: %s needs a target state for %s", ErrInvalidIntent, intent.Kind, actor)
	}
	if !IsValidTransition(actor, *machine, target) {
		return &TransitionError{Actor: actor, Intent: intent.Kind, From: *machine, To: target}
	}
	*machine = target

	data := &county.Data
	switch intent.Kind {
	case IntentManifestUploadOk:
		data.BallotManifest = layering.Clone(intent.File)
		county.ManifestAlert = AlertOk
	case IntentCVRImportOk:
		data.CVRExport = layering.Clone(intent.File)
		data.CVRImportStatus = &CVRImportStatus{State: ImportSuccessful}
		county.CVRImportAlert = AlertOk
	case IntentBoardSignedIn:
		data.AuditBoard = layering.Clone(intent.Board)
	case IntentBoardSignedOut:
		data.AuditBoard = nil
	case IntentRoundStart:
		if intent.Round != nil {
			round := *intent.Round
			data.CurrentRound = &round
			data.Rounds = append(data.Rounds, round)
		}
	case IntentRoundComplete:
		data.CurrentRound.Complete = true
		for i := range data.Rounds {
			if data.Rounds[i].Number == data.CurrentRound.Number {
				data.Rounds[i].Complete = true
			}
		}
	case IntentAuditedRecordSubmitted:
		if data.ACVRs == nil {
			data.ACVRs = map[int]AuditedRecord{}
		}
		data.ACVRs[intent.CVRID] = layering.Clone(intent.Record)
	}
	return nil
}

func applyDOSIntent(dos *DOSState, intent Intent) error {
	switch intent.Kind {
	case IntentRoundComplete:
		if !AllRoundsComplete(dos.Data.CountyStatus) {
			return fmt.Errorf("%w: counties still auditing", ErrRoundNotComplete)
		}
	case IntentRoundStart, IntentAdvance:
	default:
		return fmt.Errorf("%w: %s is not a %s intent", ErrInvalidIntent, intent.Kind, ActorDOS)
	}
	target := intent.Target
	if target == "" {
		target = defaultTarget(ActorDOS, intent.Kind, dos.ASM)
	}
	if target == "" {
		return fmt.Errorf("%w: %s needs a target state for %s", ErrInvalidIntent, intent.Kind, ActorDOS)
	}
	if !IsValidTransition(ActorDOS, dos.ASM, target) {
		return &TransitionError{Actor: ActorDOS, Intent: intent.Kind, From: dos.ASM, To: target}
	}
	dos.ASM = target
	return nil
}

// defaultTarget derives the state an intent moves to when the caller did not
// name one. Intents that do not move the machine target the current state.
func defaultTarget(actor Actor, kind IntentKind, current ASMState) ASMState {
	switch actor {
	case ActorCounty:
		switch kind {
		case IntentManifestUploadOk:
			switch current {
			case CVRsOK:
				return BallotManifestAndCVRsOK
			case CVRsImporting:
				return BallotManifestOKAndCVRsImporting
			default:
				return BallotManifestOK
			}
		case IntentCVRImportOk:
			switch current {
			case BallotManifestOK, BallotManifestOKAndCVRsImporting, BallotManifestAndCVRsOK:
				return BallotManifestAndCVRsOK
			default:
				return CVRsOK
			}
		case IntentRoundStart:
			return CountyAuditUnderway
		case IntentRoundComplete, IntentAuditedRecordSubmitted, IntentBoardSignedIn, IntentBoardSignedOut:
			return current
		}
	case ActorAuditBoard:
		switch kind {
		case IntentBoardSignedIn:
			switch current {
			case RoundInProgressNoAuditBoard:
				return RoundInProgress
			case WaitingForRoundSignOffNoAuditBoard:
				return WaitingForRoundSignOff
			default:
				return WaitingForRoundStart
			}
		case IntentBoardSignedOut:
			switch current {
			case RoundInProgress:
				return RoundInProgressNoAuditBoard
			case WaitingForRoundSignOff:
				return WaitingForRoundSignOffNoAuditBoard
			default:
				return WaitingForRoundStartNoAuditBoard
			}
		case IntentRoundStart:
			return RoundInProgress
		case IntentRoundComplete:
			return WaitingForRoundSignOff
		case IntentAuditedRecordSubmitted:
			return current
		}
	case ActorDOS:
		switch kind {
		case IntentRoundStart:
			return DOSAuditOngoing
		case IntentRoundComplete:
			return DOSRoundComplete
		}
	}
	return ""
}

func requireFile(intent Intent) error {
	if intent.File == nil {
		return fmt.Errorf("%w: %s requires a file descriptor", ErrInvalidIntent, intent.Kind)
	}
	if !isSHA256Hex(intent.File.Hash) {
		return fmt.Errorf("%w: %s hash must be 64 hex characters", ErrInvalidIntent, intent.Kind)
	}
	return nil
}

func validateSubmission(county *CountyState, intent Intent) error {
	round := county.Data.CurrentRound
	if round == nil || round.Complete {
		return fmt.Errorf("%w: %s", ErrNoActiveRound, intent.Kind)
	}
	if county.AuditBoardASM != RoundInProgress {
		return fmt.Errorf("%w: audit board is %s", ErrNoActiveRound, county.AuditBoardASM)
	}
	if intent.CVRID <= 0 {
		return fmt.Errorf("%w: cvr id must be positive", ErrInvalidIntent)
	}
	if len(intent.Record) == 0 {
		return fmt.Errorf("%w: audited record is empty", ErrInvalidIntent)
	}
	for _, contestID := range sortedIDs(intent.Record) {
		def, ok := county.Data.ContestDefs[contestID]
		if !ok {
			return fmt.Errorf("%w: contest %d is not defined", ErrInvalidIntent, contestID)
		}
		for choice := range intent.Record[contestID].Choices {
			if !def.HasChoice(choice) {
				return fmt.Errorf("%w: contest %d has no choice %q", ErrInvalidIntent, contestID, choice)
			}
		}
	}
	return nil
}
