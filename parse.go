package rla

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-rla/internal/hydrate"
)

// ParseOption configures a single Parse call.
type ParseOption func(*parseConfig)

type parseConfig struct {
	contestDefs map[int]Contest
}

// WithContestDefs supplies the contest definitions already known locally.
// Audited records are validated against them overlaid by the payload's own
// contest list.
func WithContestDefs(defs map[int]Contest) ParseOption {
	return func(cfg *parseConfig) {
		cfg.contestDefs = defs
	}
}

func applyParseOptions(opts []ParseOption) parseConfig {
	cfg := parseConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

type countyWire struct {
	Version                 *uint64                           `json:"version"`
	ID                      *int                              `json:"id"`
	ASMState                string                            `json:"asm_state"`
	AuditBoardASMState      string                            `json:"audit_board_asm_state"`
	BallotManifest          *UploadedFile                     `json:"ballot_manifest"`
	CVRExport               *UploadedFile                     `json:"cvr_export"`
	CVRImportStatus         *CVRImportStatus                  `json:"cvr_import_status"`
	Rounds                  []Round                           `json:"rounds"`
	CurrentRound            *Round                            `json:"current_round"`
	BallotsRemainingInRound *int                              `json:"ballots_remaining_in_round"`
	Contests                []Contest                         `json:"contests"`
	ContestsUnderAudit      []int                             `json:"contests_under_audit"`
	ACVRs                   map[string]map[string]ACVRContest `json:"acvrs"`
	AuditBoard              *AuditBoard                       `json:"audit_board"`
	AuditedBallotCount      *int                              `json:"audited_ballot_count"`
	DiscrepancyCount        *int                              `json:"discrepancy_count"`
	DisagreementCount       *int                              `json:"disagreement_count"`
	EstimatedBallotsToAudit *int                              `json:"estimated_ballots_to_audit"`
	RiskLimit               *float64                          `json:"risk_limit"`
}

type dosWire struct {
	Version           *uint64                     `json:"version"`
	ASMState          string                      `json:"asm_state"`
	AuditedContests   map[string]AuditedContest   `json:"audited_contests"`
	Contests          map[string]Contest          `json:"contests"`
	CountyStatus      map[string]countyStatusWire `json:"county_status"`
	DiscrepancyCounts map[string]map[string]int   `json:"discrepancy_counts"`
	RiskLimit         *float64                    `json:"risk_limit"`
	Seed              *string                     `json:"seed"`
	PublicMeetingDate *time.Time                  `json:"public_meeting_date"`
}

type countyStatusWire struct {
	ID                      int            `json:"id"`
	ASMState                string         `json:"asm_state"`
	AuditBoardASMState      string         `json:"audit_board_asm_state"`
	AuditedBallotCount      int            `json:"audited_ballot_count"`
	BallotManifest          *UploadedFile  `json:"ballot_manifest"`
	CVRExport               *UploadedFile  `json:"cvr_export"`
	BallotsRemainingInRound int            `json:"ballots_remaining_in_round"`
	CurrentRound            *Round         `json:"current_round"`
	Rounds                  []Round        `json:"rounds"`
	DisagreementCount       int            `json:"disagreement_count"`
	DiscrepancyCount        map[string]int `json:"discrepancy_count"`
	DiscrepancyTotal        *int           `json:"discrepancy_total"`
	EstimatedBallotsToAudit int            `json:"estimated_ballots_to_audit"`
}

var (
	countyDecoder = hydrate.NewDecoder[countyWire](hydrate.WithPreHook[countyWire](foldFlatFileFields))
	dosDecoder    = hydrate.NewDecoder[dosWire]()
)

// Parse converts a raw dashboard payload into a validated Snapshot. Invalid
// JSON is reported as ErrMalformedPayload.
func Parse(raw []byte, opts ...ParseOption) (Snapshot, error) {
	payload, err := hydrate.ReadObject(hydrate.Context{Source: "snapshot"}, raw)
	if err != nil {
		return Snapshot{}, &ParseError{Kind: ErrMalformedPayload, Err: err}
	}
	return ParseMap(payload, opts...)
}

// ParseMap validates an already decoded payload. The payload is not modified.
func ParseMap(payload map[string]any, opts ...ParseOption) (Snapshot, error) {
	if payload == nil {
		return Snapshot{}, &ParseError{Kind: ErrMalformedPayload, Err: fmt.Errorf("payload is nil")}
	}
	cfg := applyParseOptions(opts)

	kind, _ := payload["type"].(string)
	actor := Actor(strings.TrimSpace(kind))
	ctx := hydrate.Context{Source: "snapshot", Kind: string(actor)}

	switch actor {
	case ActorCounty:
		wire, err := countyDecoder.Decode(ctx, payload)
		if err != nil {
			return Snapshot{}, decodeError(err)
		}
		return wire.snapshot(cfg)
	case ActorDOS:
		wire, err := dosDecoder.Decode(ctx, payload)
		if err != nil {
			return Snapshot{}, decodeError(err)
		}
		return wire.snapshot()
	default:
		return Snapshot{}, &ParseError{Kind: ErrUnknownActorKind, Path: "type", Err: errActor(actor)}
	}
}

func decodeError(err error) *ParseError {
	if hydrate.StageOf(err) == hydrate.StageRead {
		return &ParseError{Kind: ErrMalformedPayload, Err: err}
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return &ParseError{Kind: ErrMalformedEntity, Path: typeErr.Field, Err: err}
	}
	return &ParseError{Kind: ErrMalformedEntity, Err: err}
}

// foldFlatFileFields accepts the flat ballot_manifest_* and cvr_export_* keys
// older servers send and nests them under their file descriptor.
func foldFlatFileFields(_ hydrate.Context, payload map[string]any) (map[string]any, error) {
	for _, prefix := range []string{"ballot_manifest", "cvr_export"} {
		if _, nested := payload[prefix]; nested {
			continue
		}
		hash, ok := payload[prefix+"_hash"]
		if !ok {
			continue
		}
		file := map[string]any{"hash": hash}
		if name, ok := payload[prefix+"_file_name"]; ok {
			file["file_name"] = name
		}
		if count, ok := payload[prefix+"_count"]; ok {
			file["count"] = count
		}
		payload[prefix] = file
	}
	return payload, nil
}

func (w countyWire) snapshot(cfg parseConfig) (Snapshot, error) {
	version, err := requireVersion(w.Version)
	if err != nil {
		return Snapshot{}, err
	}
	county := &CountySnapshot{BallotsRemainingInRound: w.BallotsRemainingInRound}

	if w.ASMState != "" {
		if county.ASM, err = memberState(ActorCounty, "asm_state", w.ASMState); err != nil {
			return Snapshot{}, err
		}
	}
	if w.AuditBoardASMState != "" {
		if county.AuditBoardASM, err = memberState(ActorAuditBoard, "audit_board_asm_state", w.AuditBoardASMState); err != nil {
			return Snapshot{}, err
		}
	}
	if w.ID != nil && *w.ID <= 0 {
		return Snapshot{}, malformed("id", "county id must be positive, got %d", *w.ID)
	}
	if err := validateFile("ballot_manifest", w.BallotManifest); err != nil {
		return Snapshot{}, err
	}
	if err := validateFile("cvr_export", w.CVRExport); err != nil {
		return Snapshot{}, err
	}
	if w.CVRImportStatus != nil && !w.CVRImportStatus.State.valid() {
		return Snapshot{}, malformed("cvr_import_status.import_state", "unknown import state %q", w.CVRImportStatus.State)
	}
	if err := validateRounds("rounds", w.Rounds); err != nil {
		return Snapshot{}, err
	}
	if err := validateRound("current_round", w.CurrentRound); err != nil {
		return Snapshot{}, err
	}
	if w.BallotsRemainingInRound != nil && *w.BallotsRemainingInRound < 0 {
		return Snapshot{}, malformed("ballots_remaining_in_round", "must not be negative, got %d", *w.BallotsRemainingInRound)
	}

	data := CountyData{
		ID:                      w.ID,
		BallotManifest:          w.BallotManifest,
		CVRExport:               w.CVRExport,
		CVRImportStatus:         w.CVRImportStatus,
		Rounds:                  w.Rounds,
		CurrentRound:            w.CurrentRound,
		ContestsUnderAudit:      w.ContestsUnderAudit,
		AuditBoard:              w.AuditBoard,
		AuditedBallotCount:      w.AuditedBallotCount,
		DiscrepancyCount:        w.DiscrepancyCount,
		DisagreementCount:       w.DisagreementCount,
		EstimatedBallotsToAudit: w.EstimatedBallotsToAudit,
		RiskLimit:               w.RiskLimit,
	}

	if w.Contests != nil {
		data.ContestDefs = make(map[int]Contest, len(w.Contests))
		for i, contest := range w.Contests {
			if contest.ID <= 0 {
				return Snapshot{}, malformed(fmt.Sprintf("contests[%d].id", i), "contest id must be positive, got %d", contest.ID)
			}
			if _, dup := data.ContestDefs[contest.ID]; dup {
				return Snapshot{}, malformed(fmt.Sprintf("contests[%d].id", i), "duplicate contest id %d", contest.ID)
			}
			data.ContestDefs[contest.ID] = contest
		}
	}

	defs := make(map[int]Contest, len(cfg.contestDefs)+len(data.ContestDefs))
	for id, contest := range cfg.contestDefs {
		defs[id] = contest
	}
	for id, contest := range data.ContestDefs {
		defs[id] = contest
	}
	if w.ACVRs != nil {
		data.ACVRs = make(map[int]AuditedRecord, len(w.ACVRs))
		for _, cvrKey := range sortedKeys(w.ACVRs) {
			cvrID, err := parseID("acvrs."+cvrKey, cvrKey)
			if err != nil {
				return Snapshot{}, err
			}
			record := make(AuditedRecord, len(w.ACVRs[cvrKey]))
			for _, contestKey := range sortedKeys(w.ACVRs[cvrKey]) {
				path := "acvrs." + cvrKey + "." + contestKey
				contestID, err := parseID(path, contestKey)
				if err != nil {
					return Snapshot{}, err
				}
				def, ok := defs[contestID]
				if !ok {
					return Snapshot{}, malformed(path, "contest %d is not defined", contestID)
				}
				entry := w.ACVRs[cvrKey][contestKey]
				for choice := range entry.Choices {
					if !def.HasChoice(choice) {
						return Snapshot{}, malformed(path+".choices", "contest %d has no choice %q", contestID, choice)
					}
				}
				record[contestID] = entry
			}
			data.ACVRs[cvrID] = record
		}
	}

	county.Data = data
	return Snapshot{Actor: ActorCounty, Version: version, County: county}, nil
}

func (w dosWire) snapshot() (Snapshot, error) {
	version, err := requireVersion(w.Version)
	if err != nil {
		return Snapshot{}, err
	}
	dos := &DOSSnapshot{}
	if w.ASMState != "" {
		if dos.ASM, err = memberState(ActorDOS, "asm_state", w.ASMState); err != nil {
			return Snapshot{}, err
		}
	}

	data := DOSData{
		RiskLimit:         w.RiskLimit,
		Seed:              w.Seed,
		PublicMeetingDate: w.PublicMeetingDate,
	}

	if w.AuditedContests != nil {
		data.AuditedContests = make(map[int]AuditedContest, len(w.AuditedContests))
		for _, key := range sortedKeys(w.AuditedContests) {
			id, err := parseID("audited_contests."+key, key)
			if err != nil {
				return Snapshot{}, err
			}
			entry := w.AuditedContests[key]
			if entry.ContestID == 0 {
				entry.ContestID = id
			} else if entry.ContestID != id {
				return Snapshot{}, malformed("audited_contests."+key+".contest_id", "id %d does not match key", entry.ContestID)
			}
			data.AuditedContests[id] = entry
		}
	}

	if w.Contests != nil {
		data.Contests = make(map[int]Contest, len(w.Contests))
		for _, key := range sortedKeys(w.Contests) {
			id, err := parseID("contests."+key, key)
			if err != nil {
				return Snapshot{}, err
			}
			contest := w.Contests[key]
			if contest.ID == 0 {
				contest.ID = id
			} else if contest.ID != id {
				return Snapshot{}, malformed("contests."+key+".id", "id %d does not match key", contest.ID)
			}
			data.Contests[id] = contest
		}
	}

	reportedTotals := map[int]*int{}
	if w.CountyStatus != nil {
		data.CountyStatus = make(map[int]CountyStatus, len(w.CountyStatus))
		for _, key := range sortedKeys(w.CountyStatus) {
			id, err := parseID("county_status."+key, key)
			if err != nil {
				return Snapshot{}, err
			}
			status, err := w.CountyStatus[key].status("county_status."+key, id)
			if err != nil {
				return Snapshot{}, err
			}
			data.CountyStatus[id] = status
			reportedTotals[id] = w.CountyStatus[key].DiscrepancyTotal
		}
	}

	if w.DiscrepancyCounts != nil {
		data.DiscrepancyCounts = make(map[int]DiscrepancyCount, len(w.DiscrepancyCounts))
		for _, key := range sortedKeys(w.DiscrepancyCounts) {
			id, err := parseID("discrepancy_counts."+key, key)
			if err != nil {
				return Snapshot{}, err
			}
			counts, err := parseDiscrepancyCount("discrepancy_counts."+key, w.DiscrepancyCounts[key], reportedTotals[id])
			if err != nil {
				return Snapshot{}, err
			}
			data.DiscrepancyCounts[id] = counts
		}
	}

	dos.Data = data
	return Snapshot{Actor: ActorDOS, Version: version, DOS: dos}, nil
}

func (w countyStatusWire) status(path string, id int) (CountyStatus, error) {
	if w.ID != 0 && w.ID != id {
		return CountyStatus{}, malformed(path+".id", "id %d does not match key", w.ID)
	}
	if w.ASMState == "" {
		return CountyStatus{}, malformed(path+".asm_state", "county state is required")
	}
	asm, err := memberState(ActorCounty, path+".asm_state", w.ASMState)
	if err != nil {
		return CountyStatus{}, err
	}
	var boardASM ASMState
	if w.AuditBoardASMState != "" {
		if boardASM, err = memberState(ActorAuditBoard, path+".audit_board_asm_state", w.AuditBoardASMState); err != nil {
			return CountyStatus{}, err
		}
	}
	if err := validateFile(path+".ballot_manifest", w.BallotManifest); err != nil {
		return CountyStatus{}, err
	}
	if err := validateFile(path+".cvr_export", w.CVRExport); err != nil {
		return CountyStatus{}, err
	}
	if err := validateRounds(path+".rounds", w.Rounds); err != nil {
		return CountyStatus{}, err
	}
	if err := validateRound(path+".current_round", w.CurrentRound); err != nil {
		return CountyStatus{}, err
	}
	if w.BallotsRemainingInRound < 0 {
		return CountyStatus{}, malformed(path+".ballots_remaining_in_round", "must not be negative, got %d", w.BallotsRemainingInRound)
	}
	counts, err := parseDiscrepancyCount(path+".discrepancy_count", w.DiscrepancyCount, w.DiscrepancyTotal)
	if err != nil {
		return CountyStatus{}, err
	}
	return CountyStatus{
		ID:                      id,
		ASMState:                asm,
		AuditBoardASMState:      boardASM,
		AuditedBallotCount:      w.AuditedBallotCount,
		BallotManifest:          w.BallotManifest,
		CVRExport:               w.CVRExport,
		BallotsRemainingInRound: w.BallotsRemainingInRound,
		CurrentRound:            w.CurrentRound,
		Rounds:                  w.Rounds,
		DisagreementCount:       w.DisagreementCount,
		DiscrepancyCount:        counts,
		DiscrepancyTotal:        DiscrepancyTotal(counts),
		EstimatedBallotsToAudit: w.EstimatedBallotsToAudit,
	}, nil
}

func requireVersion(version *uint64) (uint64, error) {
	if version == nil {
		return 0, malformed("version", "snapshot version is required")
	}
	if *version == 0 {
		return 0, malformed("version", "snapshot version must be positive")
	}
	return *version, nil
}

func memberState(actor Actor, path, raw string) (ASMState, error) {
	state := ASMState(raw)
	if !IsMember(actor, state) {
		return "", malformed(path, "%q is not a %s state", raw, actor)
	}
	return state, nil
}

func parseID(path, raw string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, malformed(path, "id %q is not an integer", raw)
	}
	return id, nil
}

func validateFile(path string, file *UploadedFile) error {
	if file == nil {
		return nil
	}
	if !isSHA256Hex(file.Hash) {
		return malformed(path+".hash", "want 64 hex characters, got %d", len(file.Hash))
	}
	if file.Count < 0 {
		return malformed(path+".count", "must not be negative, got %d", file.Count)
	}
	return nil
}

func isSHA256Hex(hash string) bool {
	if len(hash) != 64 {
		return false
	}
	for _, r := range hash {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

func validateRound(path string, round *Round) error {
	if round == nil {
		return nil
	}
	if round.Number <= 0 {
		return malformed(path+".number", "round number must be positive, got %d", round.Number)
	}
	if round.BallotsRemaining < 0 {
		return malformed(path+".ballots_remaining", "must not be negative, got %d", round.BallotsRemaining)
	}
	return nil
}

func validateRounds(path string, rounds []Round) error {
	last := 0
	for i := range rounds {
		entry := fmt.Sprintf("%s[%d]", path, i)
		if err := validateRound(entry, &rounds[i]); err != nil {
			return err
		}
		if rounds[i].Number <= last {
			return malformed(entry+".number", "round numbers must strictly increase, got %d after %d", rounds[i].Number, last)
		}
		last = rounds[i].Number
	}
	return nil
}

// parseDiscrepancyCount coerces string keys into the discrepancy domain and
// fills missing types with zero. A reported total must match the sum.
func parseDiscrepancyCount(path string, raw map[string]int, total *int) (DiscrepancyCount, error) {
	if raw == nil && total == nil {
		return nil, nil
	}
	counts := make(DiscrepancyCount, len(DiscrepancyTypes))
	for _, kind := range DiscrepancyTypes {
		counts[kind] = 0
	}
	for _, key := range sortedKeys(raw) {
		value, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil || !DiscrepancyType(value).valid() {
			return nil, malformed(path+"."+key, "discrepancy type %q outside {-2,-1,0,1,2}", key)
		}
		if raw[key] < 0 {
			return nil, malformed(path+"."+key, "count must not be negative, got %d", raw[key])
		}
		counts[DiscrepancyType(value)] = raw[key]
	}
	if total != nil && DiscrepancyTotal(counts) != *total {
		return nil, malformed(path, "counts sum to %d, reported total is %d", DiscrepancyTotal(counts), *total)
	}
	return counts, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
