package rla

import (
	"fmt"
	"sort"

	"github.com/goliatone/go-rla/layering"
)

// Merge folds snap into prev and returns the new state. It is pure: neither
// argument is modified and the result shares no memory with them.
//
// A snapshot whose version is not strictly greater than prev.Version is
// discarded: prev is returned unchanged along with a *StaleSnapshotError.
// Server-reported machine states are always accepted; transitions the
// registry does not allow are recorded in Drift and flagged with ASMDrift.
// Round regressions, increases of ballots remaining within a round and audited
// records without a contest definition are repaired and listed in Anomalies.
func Merge(prev AppState, snap Snapshot) (AppState, error) {
	if snap.Actor != prev.Actor {
		return prev, fmt.Errorf("%w: state is %q, snapshot is %q", ErrActorMismatch, prev.Actor, snap.Actor)
	}
	if snap.Version <= prev.Version {
		return prev, &StaleSnapshotError{Applied: prev.Version, Received: snap.Version}
	}

	next := AppState{Actor: prev.Actor, Version: snap.Version}
	m := merger{baseline: prev.Version == 0}

	switch prev.Actor {
	case ActorCounty:
		if prev.County == nil || snap.County == nil {
			return prev, fmt.Errorf("%w: county payload missing", ErrActorMismatch)
		}
		county := m.mergeCounty(*prev.County, *snap.County)
		next.County = &county
	case ActorDOS:
		if prev.DOS == nil || snap.DOS == nil {
			return prev, fmt.Errorf("%w: dos payload missing", ErrActorMismatch)
		}
		dos := m.mergeDOS(*prev.DOS, *snap.DOS)
		next.DOS = &dos
	default:
		return prev, &ParseError{Kind: ErrUnknownActorKind, Path: "type", Err: errActor(prev.Actor)}
	}

	next.Drift = m.drift
	next.Anomalies = m.anomalies
	next.ASMDrift = len(m.drift) > 0
	return next, nil
}

// merger collects drift and anomalies for one merge. On the baseline merge the
// prior state is the local initial state, so no drift is recorded.
type merger struct {
	baseline  bool
	drift     []Drift
	anomalies []Anomaly
}

func (m *merger) mergeASM(actor Actor, countyID int, from, to ASMState) ASMState {
	if to == "" {
		return from
	}
	if !m.baseline && from != "" && !IsValidTransition(actor, from, to) {
		m.drift = append(m.drift, Drift{Actor: actor, CountyID: countyID, From: from, To: to})
	}
	return to
}

func (m *merger) anomaly(kind AnomalyKind, countyID int, format string, args ...any) {
	m.anomalies = append(m.anomalies, Anomaly{Kind: kind, CountyID: countyID, Detail: fmt.Sprintf(format, args...)})
}

func (m *merger) mergeCounty(prev CountyState, snap CountySnapshot) CountyState {
	next := CountyState{
		ASM:            m.mergeASM(ActorCounty, 0, prev.ASM, snap.ASM),
		AuditBoardASM:  m.mergeASM(ActorAuditBoard, 0, prev.AuditBoardASM, snap.AuditBoardASM),
		ManifestAlert:  prev.ManifestAlert,
		CVRImportAlert: prev.CVRImportAlert,
		Data:           layering.Merge(snap.Data, prev.Data),
	}

	if snap.BallotsRemainingInRound != nil && next.Data.CurrentRound != nil {
		next.Data.CurrentRound.BallotsRemaining = *snap.BallotsRemainingInRound
	}

	countyID := 0
	if next.Data.ID != nil {
		countyID = *next.Data.ID
	}
	next.Data.CurrentRound = m.monotonicRound(countyID, prev.Data.CurrentRound, next.Data.CurrentRound)
	next.Data.Rounds = m.monotonicRounds(countyID, prev.Data.Rounds, next.Data.Rounds)
	m.dropOrphanRecords(countyID, &next.Data)
	return next
}

func (m *merger) mergeDOS(prev DOSState, snap DOSSnapshot) DOSState {
	next := DOSState{
		ASM:  m.mergeASM(ActorDOS, 0, prev.ASM, snap.ASM),
		Data: layering.Merge(snap.Data, prev.Data),
	}

	for _, id := range sortedIDs(snap.Data.CountyStatus) {
		incoming := next.Data.CountyStatus[id]
		before, known := prev.Data.CountyStatus[id]
		if !known {
			continue
		}
		incoming.ASMState = m.mergeASM(ActorCounty, id, before.ASMState, incoming.ASMState)
		if incoming.AuditBoardASMState == "" {
			incoming.AuditBoardASMState = before.AuditBoardASMState
		} else {
			incoming.AuditBoardASMState = m.mergeASM(ActorAuditBoard, id, before.AuditBoardASMState, incoming.AuditBoardASMState)
		}
		if before.CurrentRound != nil && incoming.CurrentRound != nil {
			switch {
			case incoming.CurrentRound.Number < before.CurrentRound.Number:
				incoming.BallotsRemainingInRound = before.BallotsRemainingInRound
			case incoming.CurrentRound.Number == before.CurrentRound.Number &&
				incoming.BallotsRemainingInRound > before.BallotsRemainingInRound:
				m.anomaly(AnomalyBallotsRemainingIncrease, id, "round %d ballots remaining in round rose from %d to %d",
					incoming.CurrentRound.Number, before.BallotsRemainingInRound, incoming.BallotsRemainingInRound)
				incoming.BallotsRemainingInRound = before.BallotsRemainingInRound
			}
		}
		incoming.CurrentRound = m.monotonicRound(id, before.CurrentRound, incoming.CurrentRound)
		incoming.Rounds = m.monotonicRounds(id, before.Rounds, incoming.Rounds)
		next.Data.CountyStatus[id] = incoming
	}
	return next
}

// monotonicRound keeps the round number from going backwards and the ballots
// remaining from growing within the same round.
func (m *merger) monotonicRound(countyID int, prev, next *Round) *Round {
	if prev == nil || next == nil {
		return next
	}
	switch {
	case next.Number < prev.Number:
		m.anomaly(AnomalyRoundRegression, countyID, "round %d reported after round %d", next.Number, prev.Number)
		kept := *prev
		return &kept
	case next.Number == prev.Number && next.BallotsRemaining > prev.BallotsRemaining:
		m.anomaly(AnomalyBallotsRemainingIncrease, countyID, "round %d ballots remaining rose from %d to %d", next.Number, prev.BallotsRemaining, next.BallotsRemaining)
		clamped := *next
		clamped.BallotsRemaining = prev.BallotsRemaining
		return &clamped
	}
	return next
}

func (m *merger) monotonicRounds(countyID int, prev, next []Round) []Round {
	if len(prev) == 0 || len(next) == 0 {
		return next
	}
	last, incoming := prev[len(prev)-1].Number, next[len(next)-1].Number
	if incoming < last {
		m.anomaly(AnomalyRoundRegression, countyID, "round list ends at %d after %d", incoming, last)
		return layering.Clone(prev)
	}
	known := make(map[int]Round, len(prev))
	for _, round := range prev {
		known[round.Number] = round
	}
	rounds := make([]Round, len(next))
	for i, round := range next {
		if before, ok := known[round.Number]; ok {
			round = *m.monotonicRound(countyID, &before, &round)
		}
		rounds[i] = round
	}
	return rounds
}

// dropOrphanRecords removes audited contests whose definition is unknown after
// the merge. Records left without contests are removed entirely.
func (m *merger) dropOrphanRecords(countyID int, data *CountyData) {
	for _, cvrID := range sortedIDs(data.ACVRs) {
		record := data.ACVRs[cvrID]
		for _, contestID := range sortedIDs(record) {
			if _, ok := data.ContestDefs[contestID]; ok {
				continue
			}
			m.anomaly(AnomalyOrphanRecord, countyID, "cvr %d references undefined contest %d", cvrID, contestID)
			delete(record, contestID)
		}
		if len(record) == 0 {
			delete(data.ACVRs, cvrID)
		}
	}
}

func sortedIDs[V any](m map[int]V) []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
