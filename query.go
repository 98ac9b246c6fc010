package rla

import "sort"

// IsAuditComplete reports whether the actor's audit has finished.
func IsAuditComplete(state AppState) bool {
	switch state.Actor {
	case ActorCounty:
		if state.County == nil {
			return false
		}
		return state.County.ASM == CountyAuditComplete || state.County.AuditBoardASM == AuditComplete
	case ActorDOS:
		if state.DOS == nil {
			return false
		}
		return state.DOS.ASM == DOSAuditComplete || state.DOS.ASM == AuditResultsPublished
	}
	return false
}

// CanAudit reports whether the audit board can review ballots now: the
// manifest is present, the CVR import succeeded, the board is signed in and
// the active round still has ballots remaining.
func CanAudit(state AppState) bool {
	county := countyOf(state)
	if county == nil {
		return false
	}
	data := county.Data
	if data.BallotManifest == nil {
		return false
	}
	if data.CVRImportStatus == nil || data.CVRImportStatus.State != ImportSuccessful {
		return false
	}
	if !AuditBoardSignedIn(state) {
		return false
	}
	return data.CurrentRound != nil && !data.CurrentRound.Complete && data.CurrentRound.BallotsRemaining > 0
}

// AuditStarted reports whether the county audit is underway or done.
func AuditStarted(state AppState) bool {
	county := countyOf(state)
	if county == nil {
		return false
	}
	return county.ASM == CountyAuditUnderway || county.ASM == CountyAuditComplete
}

// AuditBoardSignedIn reports whether a board is currently signed in.
func AuditBoardSignedIn(state AppState) bool {
	county := countyOf(state)
	if county == nil {
		return false
	}
	switch county.AuditBoardASM {
	case WaitingForRoundStart, RoundInProgress, WaitingForRoundSignOff:
		return true
	}
	return false
}

// CanSignIn reports whether the audit board may sign in.
func CanSignIn(state AppState) bool {
	county := countyOf(state)
	if county == nil {
		return false
	}
	switch county.AuditBoardASM {
	case WaitingForRoundStartNoAuditBoard, RoundInProgressNoAuditBoard, WaitingForRoundSignOffNoAuditBoard:
		return true
	case AuditInitialState:
		return AuditStarted(state)
	}
	return false
}

// CanRenderReport reports whether an audit report has data to show.
func CanRenderReport(state AppState) bool {
	switch state.Actor {
	case ActorCounty:
		return AuditStarted(state)
	case ActorDOS:
		if state.DOS == nil {
			return false
		}
		switch state.DOS.ASM {
		case DOSAuditOngoing, DOSRoundComplete, DOSAuditComplete, AuditResultsPublished:
			return true
		}
	}
	return false
}

// IsDeadlineMissed reports whether the county missed its upload deadline.
func IsDeadlineMissed(state AppState) bool {
	county := countyOf(state)
	return county != nil && county.ASM == DeadlineMissed
}

// RoundsComplete reports whether every round known to the county is complete.
func RoundsComplete(state AppState) bool {
	county := countyOf(state)
	if county == nil {
		return false
	}
	if round := county.Data.CurrentRound; round != nil && !round.Complete {
		return false
	}
	for _, round := range county.Data.Rounds {
		if !round.Complete {
			return false
		}
	}
	return true
}

// AllRoundsComplete reports whether every county's current round is absent or
// complete.
func AllRoundsComplete(statuses map[int]CountyStatus) bool {
	for _, status := range statuses {
		if status.CurrentRound != nil && !status.CurrentRound.Complete {
			return false
		}
	}
	return true
}

// DiscrepancyTotal sums counts across the discrepancy domain. Keys outside the
// domain are ignored.
func DiscrepancyTotal(counts DiscrepancyCount) int {
	total := 0
	for _, kind := range DiscrepancyTypes {
		total += counts[kind]
	}
	return total
}

// CountiesWithDrift lists the counties whose reported state drifted in the
// last merge, in ascending id order.
func CountiesWithDrift(state AppState) []int {
	seen := map[int]struct{}{}
	for _, drift := range state.Drift {
		if drift.CountyID != 0 {
			seen[drift.CountyID] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil
	}
	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func countyOf(state AppState) *CountyState {
	if state.Actor != ActorCounty {
		return nil
	}
	return state.County
}
