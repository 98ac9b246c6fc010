package rla

import "sort"

// Actor identifies which workflow a state machine belongs to.
type Actor string

const (
	ActorCounty     Actor = "County"
	ActorAuditBoard Actor = "AuditBoard"
	ActorDOS        Actor = "DOS"
)

// ASMState is a node of an actor's audit state machine.
type ASMState string

// County dashboard states.
const (
	CountyInitialState               ASMState = "COUNTY_INITIAL_STATE"
	BallotManifestOK                 ASMState = "BALLOT_MANIFEST_OK"
	CVRsImporting                    ASMState = "CVRS_IMPORTING"
	CVRsOK                           ASMState = "CVRS_OK"
	BallotManifestOKAndCVRsImporting ASMState = "BALLOT_MANIFEST_OK_AND_CVRS_IMPORTING"
	BallotManifestAndCVRsOK          ASMState = "BALLOT_MANIFEST_AND_CVRS_OK"
	CountyAuditUnderway              ASMState = "COUNTY_AUDIT_UNDERWAY"
	CountyAuditComplete              ASMState = "COUNTY_AUDIT_COMPLETE"
	DeadlineMissed                   ASMState = "DEADLINE_MISSED"
)

// Audit board dashboard states.
const (
	AuditInitialState                  ASMState = "AUDIT_INITIAL_STATE"
	WaitingForRoundStart               ASMState = "WAITING_FOR_ROUND_START"
	WaitingForRoundStartNoAuditBoard   ASMState = "WAITING_FOR_ROUND_START_NO_AUDIT_BOARD"
	RoundInProgress                    ASMState = "ROUND_IN_PROGRESS"
	RoundInProgressNoAuditBoard        ASMState = "ROUND_IN_PROGRESS_NO_AUDIT_BOARD"
	WaitingForRoundSignOff             ASMState = "WAITING_FOR_ROUND_SIGN_OFF"
	WaitingForRoundSignOffNoAuditBoard ASMState = "WAITING_FOR_ROUND_SIGN_OFF_NO_AUDIT_BOARD"
	AuditComplete                      ASMState = "AUDIT_COMPLETE"
	UnableToAudit                      ASMState = "UNABLE_TO_AUDIT"
	AuditAborted                       ASMState = "AUDIT_ABORTED"
)

// Department of State dashboard states.
const (
	DOSInitialState           ASMState = "DOS_INITIAL_STATE"
	DOSAuthenticated          ASMState = "DOS_AUTHENTICATED"
	RiskLimitsSet             ASMState = "RISK_LIMITS_SET"
	ContestsToAuditIdentified ASMState = "CONTESTS_TO_AUDIT_IDENTIFIED"
	DataToAuditPublished      ASMState = "DATA_TO_AUDIT_PUBLISHED"
	RandomSeedPublished       ASMState = "RANDOM_SEED_PUBLISHED"
	BallotOrderDefined        ASMState = "BALLOT_ORDER_DEFINED"
	AuditReadyToStart         ASMState = "AUDIT_READY_TO_START"
	DOSAuditOngoing           ASMState = "DOS_AUDIT_ONGOING"
	DOSRoundComplete          ASMState = "DOS_ROUND_COMPLETE"
	DOSAuditComplete          ASMState = "DOS_AUDIT_COMPLETE"
	AuditResultsPublished     ASMState = "AUDIT_RESULTS_PUBLISHED"
)

type stateSet map[ASMState]struct{}

func setOf(states ...ASMState) stateSet {
	out := make(stateSet, len(states))
	for _, s := range states {
		out[s] = struct{}{}
	}
	return out
}

// graph is a static directed transition graph for one actor.
type graph struct {
	initial  ASMState
	terminal stateSet
	edges    map[ASMState]stateSet
}

var registry = map[Actor]graph{
	ActorCounty:     countyGraph(),
	ActorAuditBoard: auditBoardGraph(),
	ActorDOS:        dosGraph(),
}

func countyGraph() graph {
	g := graph{
		initial:  CountyInitialState,
		terminal: setOf(CountyAuditComplete, DeadlineMissed),
		edges: map[ASMState]stateSet{
			CountyInitialState:               setOf(BallotManifestOK, CVRsImporting, CVRsOK),
			BallotManifestOK:                 setOf(BallotManifestOK, BallotManifestOKAndCVRsImporting, BallotManifestAndCVRsOK),
			CVRsImporting:                    setOf(CVRsOK, CountyInitialState, BallotManifestOKAndCVRsImporting),
			CVRsOK:                           setOf(CVRsOK, CVRsImporting, BallotManifestAndCVRsOK),
			BallotManifestOKAndCVRsImporting: setOf(BallotManifestAndCVRsOK, BallotManifestOK),
			BallotManifestAndCVRsOK:          setOf(BallotManifestAndCVRsOK, BallotManifestOKAndCVRsImporting, CountyAuditUnderway),
			CountyAuditUnderway:              setOf(CountyAuditComplete),
			CountyAuditComplete:              setOf(),
			DeadlineMissed:                   setOf(),
		},
	}
	// A missed deadline overrides any phase still in progress.
	for from := range g.edges {
		if _, done := g.terminal[from]; !done {
			g.edges[from][DeadlineMissed] = struct{}{}
		}
	}
	return g
}

func auditBoardGraph() graph {
	g := graph{
		initial:  AuditInitialState,
		terminal: setOf(AuditComplete, UnableToAudit, AuditAborted),
		edges: map[ASMState]stateSet{
			AuditInitialState:                  setOf(RoundInProgressNoAuditBoard, WaitingForRoundStart, AuditComplete, UnableToAudit),
			WaitingForRoundStartNoAuditBoard:   setOf(RoundInProgressNoAuditBoard, WaitingForRoundStart),
			WaitingForRoundStart:               setOf(RoundInProgress, WaitingForRoundStartNoAuditBoard, AuditComplete),
			RoundInProgress:                    setOf(RoundInProgressNoAuditBoard, WaitingForRoundSignOff),
			RoundInProgressNoAuditBoard:        setOf(RoundInProgress),
			WaitingForRoundSignOff:             setOf(WaitingForRoundSignOffNoAuditBoard, WaitingForRoundStart, AuditComplete),
			WaitingForRoundSignOffNoAuditBoard: setOf(WaitingForRoundSignOff),
			AuditComplete:                      setOf(),
			UnableToAudit:                      setOf(),
			AuditAborted:                       setOf(),
		},
	}
	for from := range g.edges {
		if _, done := g.terminal[from]; !done {
			g.edges[from][AuditAborted] = struct{}{}
		}
	}
	return g
}

func dosGraph() graph {
	return graph{
		initial:  DOSInitialState,
		terminal: setOf(AuditResultsPublished),
		edges: map[ASMState]stateSet{
			DOSInitialState:           setOf(DOSAuthenticated),
			DOSAuthenticated:          setOf(RiskLimitsSet),
			RiskLimitsSet:             setOf(ContestsToAuditIdentified),
			ContestsToAuditIdentified: setOf(DataToAuditPublished),
			DataToAuditPublished:      setOf(RandomSeedPublished),
			RandomSeedPublished:       setOf(BallotOrderDefined, DOSAuditOngoing, DOSAuditComplete),
			BallotOrderDefined:        setOf(AuditReadyToStart),
			AuditReadyToStart:         setOf(DOSAuditOngoing),
			DOSAuditOngoing:           setOf(DOSRoundComplete, DOSAuditComplete),
			DOSRoundComplete:          setOf(DOSAuditOngoing, DOSAuditComplete),
			DOSAuditComplete:          setOf(AuditResultsPublished),
			AuditResultsPublished:     setOf(),
		},
	}
}

// InitialState returns the entry state of actor's machine, or "" for an
// unknown actor.
func InitialState(actor Actor) ASMState {
	return registry[actor].initial
}

// IsMember reports whether state belongs to actor's state set.
func IsMember(actor Actor, state ASMState) bool {
	g, ok := registry[actor]
	if !ok {
		return false
	}
	_, ok = g.edges[state]
	return ok
}

// IsTerminal reports whether state is a terminal node of actor's machine.
func IsTerminal(actor Actor, state ASMState) bool {
	_, ok := registry[actor].terminal[state]
	return ok
}

// IsValidTransition reports whether actor may move from one state to
// another. Remaining in the same member state is always valid.
func IsValidTransition(actor Actor, from, to ASMState) bool {
	g, ok := registry[actor]
	if !ok {
		return false
	}
	next, ok := g.edges[from]
	if !ok || !IsMember(actor, to) {
		return false
	}
	if from == to {
		return true
	}
	_, ok = next[to]
	return ok
}

// States lists actor's states in lexical order.
func States(actor Actor) []ASMState {
	g := registry[actor]
	out := make([]ASMState, 0, len(g.edges))
	for s := range g.edges {
		out = append(out, s)
	}
	sortStates(out)
	return out
}

// Successors lists the states directly reachable from state.
func Successors(actor Actor, state ASMState) []ASMState {
	next := registry[actor].edges[state]
	out := make([]ASMState, 0, len(next))
	for s := range next {
		out = append(out, s)
	}
	sortStates(out)
	return out
}

func sortStates(states []ASMState) {
	sort.Slice(states, func(i, j int) bool { return states[i] < states[j] })
}
