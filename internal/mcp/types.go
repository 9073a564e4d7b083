package mcp

// Input types for MCP tools.
// Optional fields use pointers to allow nil values.

// SnapshotInput is the input for vmlens_snapshot.
type SnapshotInput struct {
	PrivacyLevel *string `json:"privacy_level,omitempty" jsonschema:"description=How much detail to keep,enum=maximum,enum=partial,enum=minimal,default=maximum"`
}

// InspectClassInput is the input for vmlens_inspect_class.
type InspectClassInput struct {
	ClassName    string  `json:"class_name" jsonschema:"description=Class name or pseudonym as returned by vmlens_snapshot (required)"`
	Refresh      *bool   `json:"refresh,omitempty" jsonschema:"description=Collect a new snapshot before the lookup,default=false"`
	PrivacyLevel *string `json:"privacy_level,omitempty" jsonschema:"description=How much detail to keep,enum=maximum,enum=partial,enum=minimal,default=maximum"`
}

// InspectFunctionsInput is the input for vmlens_inspect_functions.
type InspectFunctionsInput struct {
	Limit        *int    `json:"limit,omitempty" jsonschema:"description=Maximum number of functions to return,default=10"`
	Refresh      *bool   `json:"refresh,omitempty" jsonschema:"description=Collect a new snapshot before the lookup,default=false"`
	PrivacyLevel *string `json:"privacy_level,omitempty" jsonschema:"description=How much detail to keep,enum=maximum,enum=partial,enum=minimal,default=maximum"`
}

// HistoryInput is the input for vmlens_history.
type HistoryInput struct {
	Since *string `json:"since,omitempty" jsonschema:"description=Only return summaries newer than this (e.g. '30m' '24h'),default=1h"`
	Limit *int    `json:"limit,omitempty" jsonschema:"description=Maximum number of summaries to return,default=20"`
}
