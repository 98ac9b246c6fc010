package rla

import "time"

// AppState is the local mirror of one actor's server-held audit state. It is a
// tagged variant: Actor selects which of County or DOS is populated.
type AppState struct {
	Actor     Actor        `json:"type"`
	Version   uint64       `json:"version"`
	County    *CountyState `json:"county,omitempty"`
	DOS       *DOSState    `json:"dos,omitempty"`
	ASMDrift  bool         `json:"asm_drift"`
	Drift     []Drift      `json:"drift,omitempty"`
	Anomalies []Anomaly    `json:"anomalies,omitempty"`
}

// NewAppState returns the pre-snapshot state for actor with every machine in
// its initial state.
func NewAppState(actor Actor) (AppState, error) {
	switch actor {
	case ActorCounty:
		return AppState{
			Actor: ActorCounty,
			County: &CountyState{
				ASM:            InitialState(ActorCounty),
				AuditBoardASM:  InitialState(ActorAuditBoard),
				ManifestAlert:  AlertNone,
				CVRImportAlert: AlertNone,
			},
		}, nil
	case ActorDOS:
		return AppState{
			Actor: ActorDOS,
			DOS:   &DOSState{ASM: InitialState(ActorDOS)},
		}, nil
	default:
		return AppState{}, &ParseError{Kind: ErrUnknownActorKind, Path: "type", Err: errActor(actor)}
	}
}

// Alert is the outcome marker of a local upload or import attempt.
type Alert string

const (
	AlertNone Alert = "None"
	AlertOk   Alert = "Ok"
	AlertFail Alert = "Fail"
)

// CountyState is the County actor's payload: its own machine, the audit board
// machine and the county dashboard data.
type CountyState struct {
	ASM            ASMState   `json:"asm_state"`
	AuditBoardASM  ASMState   `json:"audit_board_asm_state"`
	ManifestAlert  Alert      `json:"manifest_alert"`
	CVRImportAlert Alert      `json:"cvr_import_alert"`
	Data           CountyData `json:"data"`
}

// CountyData holds the county dashboard entities. A nil field has not been
// reported by the server yet.
type CountyData struct {
	ID                      *int                  `json:"id,omitempty"`
	BallotManifest          *UploadedFile         `json:"ballot_manifest,omitempty" layer:"replace"`
	CVRExport               *UploadedFile         `json:"cvr_export,omitempty" layer:"replace"`
	CVRImportStatus         *CVRImportStatus      `json:"cvr_import_status,omitempty" layer:"replace"`
	Rounds                  []Round               `json:"rounds,omitempty"`
	CurrentRound            *Round                `json:"current_round,omitempty"`
	ContestDefs             map[int]Contest       `json:"contest_defs,omitempty"`
	ContestsUnderAudit      []int                 `json:"contests_under_audit,omitempty"`
	ACVRs                   map[int]AuditedRecord `json:"acvrs,omitempty"`
	AuditBoard              *AuditBoard           `json:"audit_board,omitempty" layer:"replace"`
	AuditedBallotCount      *int                  `json:"audited_ballot_count,omitempty"`
	DiscrepancyCount        *int                  `json:"discrepancy_count,omitempty"`
	DisagreementCount       *int                  `json:"disagreement_count,omitempty"`
	EstimatedBallotsToAudit *int                  `json:"estimated_ballots_to_audit,omitempty"`
	RiskLimit               *float64              `json:"risk_limit,omitempty"`
}

// DOSState is the State oversight office payload.
type DOSState struct {
	ASM  ASMState `json:"asm_state"`
	Data DOSData  `json:"data"`
}

// DOSData holds the DOS dashboard entities, keyed by contest or county id.
type DOSData struct {
	AuditedContests   map[int]AuditedContest   `json:"audited_contests,omitempty"`
	Contests          map[int]Contest          `json:"contests,omitempty"`
	CountyStatus      map[int]CountyStatus     `json:"county_status,omitempty"`
	DiscrepancyCounts map[int]DiscrepancyCount `json:"discrepancy_counts,omitempty"`
	RiskLimit         *float64                 `json:"risk_limit,omitempty"`
	Seed              *string                  `json:"seed,omitempty"`
	PublicMeetingDate *time.Time               `json:"public_meeting_date,omitempty"`
}

// Round is one iteration of ballot sampling for a county.
type Round struct {
	Number           int  `json:"number"`
	ExpectedCount    int  `json:"expected_count"`
	ActualCount      int  `json:"actual_count"`
	BallotsRemaining int  `json:"ballots_remaining"`
	Complete         bool `json:"complete"`
}

// Contest is a contest definition referenced by id from audited records.
type Contest struct {
	ID           int      `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Choices      []Choice `json:"choices"`
	VotesAllowed int      `json:"votes_allowed"`
}

// Choice is one selectable option of a contest.
type Choice struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// HasChoice reports whether name is one of the contest's choices.
func (c Contest) HasChoice(name string) bool {
	for _, choice := range c.Choices {
		if choice.Name == name {
			return true
		}
	}
	return false
}

// UploadedFile describes a ballot manifest or CVR export accepted by the server.
type UploadedFile struct {
	FileName  string     `json:"file_name"`
	Hash      string     `json:"hash"`
	Count     int        `json:"count"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// CVRImportState is the server-side progress of a CVR export import.
type CVRImportState string

const (
	ImportNotAttempted CVRImportState = "NOT_ATTEMPTED"
	ImportInProgress   CVRImportState = "IN_PROGRESS"
	ImportSuccessful   CVRImportState = "SUCCESSFUL"
	ImportFailed       CVRImportState = "FAILED"
)

func (s CVRImportState) valid() bool {
	switch s {
	case ImportNotAttempted, ImportInProgress, ImportSuccessful, ImportFailed:
		return true
	}
	return false
}

// CVRImportStatus reports the latest CVR import attempt.
type CVRImportStatus struct {
	State        CVRImportState `json:"import_state"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Timestamp    *time.Time     `json:"timestamp,omitempty"`
}

// AuditBoard is the signed-in board for a county.
type AuditBoard struct {
	Members     []Elector  `json:"members"`
	SignInTime  *time.Time `json:"sign_in_time,omitempty"`
	SignOutTime *time.Time `json:"sign_out_time,omitempty"`
}

// Elector is one audit board member.
type Elector struct {
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	PoliticalParty string `json:"political_party"`
}

// AuditedRecord is an audit board's interpretation of one ballot, keyed by
// contest id.
type AuditedRecord map[int]ACVRContest

// ACVRContest is the interpretation of one contest on an audited ballot.
type ACVRContest struct {
	Choices     map[string]bool `json:"choices"`
	Comments    string          `json:"comments,omitempty"`
	NoConsensus bool            `json:"no_consensus"`
}

// AuditedContest marks a contest selected for audit by DOS.
type AuditedContest struct {
	ContestID int    `json:"contest_id"`
	Reason    string `json:"reason,omitempty"`
	AuditType string `json:"audit_type,omitempty"`
}

// DiscrepancyType is one value of the fixed discrepancy domain.
type DiscrepancyType int

// DiscrepancyTypes lists the discrepancy domain in ascending order.
var DiscrepancyTypes = []DiscrepancyType{-2, -1, 0, 1, 2}

func (d DiscrepancyType) valid() bool {
	return d >= -2 && d <= 2
}

// DiscrepancyCount maps discrepancy types to the number of ballots found with
// that discrepancy.
type DiscrepancyCount map[DiscrepancyType]int

// CountyStatus is DOS's read-only projection of one county dashboard.
type CountyStatus struct {
	ID                      int              `json:"id"`
	ASMState                ASMState         `json:"asm_state"`
	AuditBoardASMState      ASMState         `json:"audit_board_asm_state,omitempty"`
	AuditedBallotCount      int              `json:"audited_ballot_count"`
	BallotManifest          *UploadedFile    `json:"ballot_manifest,omitempty"`
	CVRExport               *UploadedFile    `json:"cvr_export,omitempty"`
	BallotsRemainingInRound int              `json:"ballots_remaining_in_round"`
	CurrentRound            *Round           `json:"current_round,omitempty"`
	Rounds                  []Round          `json:"rounds,omitempty"`
	DisagreementCount       int              `json:"disagreement_count"`
	DiscrepancyCount        DiscrepancyCount `json:"discrepancy_count,omitempty"`
	DiscrepancyTotal        int              `json:"discrepancy_total"`
	EstimatedBallotsToAudit int              `json:"estimated_ballots_to_audit"`
}

// Drift records a server-reported state the registry considers unreachable
// from the prior local state. CountyID is set for DOS county projections.
type Drift struct {
	Actor    Actor    `json:"actor"`
	CountyID int      `json:"county_id,omitempty"`
	From     ASMState `json:"from"`
	To       ASMState `json:"to"`
}

// AnomalyKind names an invariant violation repaired during a merge.
type AnomalyKind string

const (
	AnomalyRoundRegression          AnomalyKind = "round_regression"
	AnomalyBallotsRemainingIncrease AnomalyKind = "ballots_remaining_increase"
	AnomalyOrphanRecord             AnomalyKind = "orphan_record"
)

// Anomaly describes a snapshot value that was rejected to keep the state
// invariants intact.
type Anomaly struct {
	Kind     AnomalyKind `json:"kind"`
	CountyID int         `json:"county_id,omitempty"`
	Detail   string      `json:"detail"`
}

// Snapshot is a parsed, validated server payload for one actor.
type Snapshot struct {
	Actor   Actor
	Version uint64
	County  *CountySnapshot
	DOS     *DOSSnapshot
}

// CountySnapshot carries the county sections present in a payload. Empty ASM
// values mean the section was absent.
type CountySnapshot struct {
	ASM                     ASMState
	AuditBoardASM           ASMState
	BallotsRemainingInRound *int
	Data                    CountyData
}

// DOSSnapshot carries the DOS sections present in a payload.
type DOSSnapshot struct {
	ASM  ASMState
	Data DOSData
}
