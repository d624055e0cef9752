// tools/invocation.go
package tools

// Invocation is a decoded tool call. The concrete types below are the only
// implementations, so a type switch over them is exhaustive.
type Invocation interface {
	CallID() string
	ToolName() string
	invocation()
}

// SemanticLookup searches the document index
type SemanticLookup struct {
	ID     string
	Query  string
	Source string
	K      int
}

// StructuredLookup answers a question from the transaction table
type StructuredLookup struct {
	ID       string
	Question string
}

// RunPolicyAudit runs the policy-violation audit
type RunPolicyAudit struct {
	ID string
}

// RunCrossSourceAudit runs the cross-source correlation audit
type RunCrossSourceAudit struct {
	ID string
}

// Unknown is a call naming a tool that is not registered
type Unknown struct {
	ID   string
	Name string
}

// Malformed is a call to a registered tool whose arguments do not fit its schema
type Malformed struct {
	ID   string
	Name string
	Err  error
}

func (i SemanticLookup) CallID() string      { return i.ID }
func (i StructuredLookup) CallID() string    { return i.ID }
func (i RunPolicyAudit) CallID() string      { return i.ID }
func (i RunCrossSourceAudit) CallID() string { return i.ID }
func (i Unknown) CallID() string             { return i.ID }
func (i Malformed) CallID() string           { return i.ID }

func (SemanticLookup) ToolName() string      { return SemanticLookupName }
func (StructuredLookup) ToolName() string    { return StructuredLookupName }
func (RunPolicyAudit) ToolName() string      { return PolicyAuditName }
func (RunCrossSourceAudit) ToolName() string { return CrossSourceAuditName }
func (i Unknown) ToolName() string           { return i.Name }
func (i Malformed) ToolName() string         { return i.Name }

func (SemanticLookup) invocation()      {}
func (StructuredLookup) invocation()    {}
func (RunPolicyAudit) invocation()      {}
func (RunCrossSourceAudit) invocation() {}
func (Unknown) invocation()             {}
func (Malformed) invocation()           {}
