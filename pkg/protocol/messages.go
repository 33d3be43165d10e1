// Package protocol implements the client wire protocol (§6): versioned
// Up_message/Down_message envelopes carried over HTTP/JSON, dispatched
// against the store and driver.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/openfroyo/targetd/pkg/target"
)

// UpType is the closed sum of request message kinds a client may send
// (§6).
type UpType string

const (
	UpGetTargets           UpType = "get_targets"
	UpGetTargetSummaries   UpType = "get_target_summaries"
	UpGetTargetFlatStates  UpType = "get_target_flat_states"
	UpGetAvailableQueries  UpType = "get_available_queries"
	UpCallQuery            UpType = "call_query"
	UpSubmitTargets        UpType = "submit_targets"
	UpKillTargets          UpType = "kill_targets"
	UpRestartTargets       UpType = "restart_targets"
	UpGetTargetIDs         UpType = "get_target_ids"
	UpGetServerStatus      UpType = "get_server_status"
	UpGetDeferred          UpType = "get_deferred"
	UpProcess              UpType = "process"
)

func (t UpType) Validate() error {
	switch t {
	case UpGetTargets, UpGetTargetSummaries, UpGetTargetFlatStates, UpGetAvailableQueries,
		UpCallQuery, UpSubmitTargets, UpKillTargets, UpRestartTargets, UpGetTargetIDs,
		UpGetServerStatus, UpGetDeferred, UpProcess:
		return nil
	default:
		return fmt.Errorf("invalid up message type: %s", t)
	}
}

// UpMessage is the envelope every client request is carried in: a type
// discriminator plus opaque parameters decoded once the type is known,
// mirroring the tagged-message convention of the micro-runner protocol
// (§6, §9).
type UpMessage struct {
	Type   UpType          `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
}

// DownType is the closed sum of response message kinds the server may
// send (§6).
type DownType string

const (
	DownListOfTargets          DownType = "list_of_targets"
	DownListOfTargetSummaries  DownType = "list_of_target_summaries"
	DownListOfTargetFlatStates DownType = "list_of_target_flat_states"
	DownListOfTargetIDs        DownType = "list_of_target_ids"
	DownDeferredListOfTargetIDs DownType = "deferred_list_of_target_ids"
	DownQueryResult            DownType = "query_result"
	DownServerStatus           DownType = "server_status"
	DownOk                     DownType = "ok"
	DownMissingDeferred        DownType = "missing_deferred"
	DownError                  DownType = "error"
	DownProcess                DownType = "process"
)

// DownMessage is the response envelope.
type DownMessage struct {
	Type   DownType        `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Envelope versions the wire format: readers accept any known version,
// writers always emit the current one (§6, §9).
type Envelope struct {
	V0 json.RawMessage `json:"V0,omitempty"`
}

// GetTargetsParams carries the ids for Get_targets/Get_target_summaries
// (§6).
type GetTargetsParams struct {
	IDs []string `json:"ids"`
}

// ListOfTargetsResult carries the down-response for Get_targets.
type ListOfTargetsResult struct {
	Targets []*target.Target `json:"targets"`
}

// TargetSummary is the condensed view returned by
// Get_target_summaries: enough to render a dashboard row without the
// full state history (§6).
type TargetSummary struct {
	ID       string            `json:"id"`
	Name     string            `json:"name,omitempty"`
	Tags     []string          `json:"tags,omitempty"`
	State    target.StateKind  `json:"state"`
	Attempts int               `json:"attempts"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ListOfTargetSummariesResult carries the down-response for
// Get_target_summaries.
type ListOfTargetSummariesResult struct {
	Summaries []TargetSummary `json:"summaries"`
}

// FlatStatesSince is the closed sum of ways Get_target_flat_states can
// bound which state entries are returned (§6).
type FlatStatesSince struct {
	All   bool  `json:"all,omitempty"`
	Since int64 `json:"since,omitempty"` // unix nanos; used when All is false
}

// GetTargetFlatStatesParams requests the current state entry of each
// target whose latest transition is not earlier than a point in time,
// optionally bounded to a subset of ids
// and blocking until non-empty (§6, §5).
type GetTargetFlatStatesParams struct {
	Since               FlatStatesSince `json:"since"`
	IDs                 []string        `json:"ids,omitempty"`
	BlockIfEmptyAtMost  int64           `json:"block_if_empty_at_most,omitempty"` // milliseconds
}

// TargetFlatState is one target's current state entry, flattened for
// transport.
type TargetFlatState struct {
	ID    string           `json:"id"`
	State target.StateEntry `json:"state"`
}

// ListOfTargetFlatStatesResult carries the down-response for
// Get_target_flat_states.
type ListOfTargetFlatStatesResult struct {
	States []TargetFlatState `json:"states"`
}

// SubmitTargetsParams carries the batch of targets to submit (§4.3).
type SubmitTargetsParams struct {
	Targets []*target.Target `json:"targets"`
}

// SubmitTargetsResult maps every submitted id (including collapsed
// ones) to the canonical id it now refers to (§4.3, §8 round-trip
// law).
type SubmitTargetsResult struct {
	IDMapping map[string]string `json:"id_mapping"`
}

// KillTargetsParams / RestartTargetsParams carry the ids to act on
// (§6).
type KillTargetsParams struct {
	IDs []string `json:"ids"`
}

type RestartTargetsParams struct {
	IDs []string `json:"ids"`
}

// RestartTargetsResult maps every restarted terminal id to the id of
// its freshly created replacement (§4.4 restart semantics).
type RestartTargetsResult struct {
	IDMapping map[string]string `json:"id_mapping"`
}

// GetTargetIDsParams carries the target_query for Get_target_ids
// (§6).
type GetTargetIDsParams struct {
	Query              TargetQuery `json:"query"`
	DeferIfLarger      int         `json:"defer_if_larger,omitempty"`
}

// ListOfTargetIDsResult carries a direct (non-deferred) id list.
type ListOfTargetIDsResult struct {
	IDs []string `json:"ids"`
}

// DeferredListOfTargetIDsResult carries a deferred-pagination token in
// place of the full id list, per §6/§9.
type DeferredListOfTargetIDsResult struct {
	Token string `json:"token"`
	Total int    `json:"total"`
}

// GetDeferredParams pages through a previously deferred id list (§6,
// §9).
type GetDeferredParams struct {
	Token  string `json:"token"`
	Index  int    `json:"index"`
	Length int    `json:"length"`
}

// GetAvailableQueriesParams / CallQueryParams support the optional
// per-target named-query surface (§6); targetd exposes none of its own
// by default, but the protocol carries the shape for plugin-defined
// queries.
type GetAvailableQueriesParams struct {
	ID string `json:"id"`
}

type AvailableQueriesResult struct {
	Names []string `json:"names"`
}

type CallQueryParams struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type QueryResult struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// ProcessParams carries an opaque subprotocol payload (§9: "process
// subprotocol peripheral"). No component implements the subprotocol:
// the server answers every Process message with a protocol error.
type ProcessParams struct {
	Subprotocol json.RawMessage `json:"subprotocol"`
}

// ErrorResult carries a protocol-level error response. Detail is
// populated when the server's return_error_messages setting allows it
// (§7); the read-only, unknown-message and Process rejections always
// carry it.
type ErrorResult struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail,omitempty"`
}

// TLSKind describes how the listening socket is secured, reported in
// Server_status (§6).
type TLSKind string

const (
	TLSNone   TLSKind = "none"
	TLSNative TLSKind = "native"
)

// PreemptiveBounds carries the driver's concurrency bounds (§6).
type PreemptiveBounds struct {
	Low  int `json:"low"`
	High int `json:"high"`
}

// ServerStatusResult is the down-response for Get_server_status (§6).
type ServerStatusResult struct {
	Time             int64            `json:"time"` // unix nanos
	ReadOnly         bool             `json:"read_only"`
	TLS              TLSKind          `json:"tls"`
	PreemptiveBounds PreemptiveBounds `json:"preemptive_bounds"`
	PreemptiveQueue  int              `json:"preemptive_queue"`
	Database         string           `json:"database"`
	ActiveTargets    int              `json:"active_targets"`
	AliveTargets     int              `json:"alive_targets"`
	MemAllocBytes    uint64           `json:"mem_alloc_bytes"`
	MemSysBytes      uint64           `json:"mem_sys_bytes"`
	NumGoroutine     int              `json:"num_goroutine"`
	NumGC            uint32           `json:"num_gc"`
}
