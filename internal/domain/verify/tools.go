package verify

// ToolClass classifies a tool by whether executing it produces external
// side effects.
type ToolClass int

const (
	ClassRead ToolClass = iota
	ClassWrite
)

// ToolSpec describes one registered tool.
type ToolSpec struct {
	Name    string
	Class   ToolClass
	Outputs []string
}

// Registered tool names.
const (
	ToolCreateAppointment = "cliniccloud.create_appointment"
	ToolCancelAppointment = "cliniccloud.cancel_appointment"
	ToolListAppointments  = "cliniccloud.list_appointments"
	ToolSummaryHistory    = "cliniccloud.summary_history"
	ToolSendSMS           = "twilio.send_sms"
	ToolGenerateInvoice   = "stripe.generate_invoice"
)

// toolRegistry is the closed set of tools the gateway will decide on.
// Unknown tools are denied with ViolationUnknownTool.
var toolRegistry = map[string]ToolSpec{
	ToolCreateAppointment: {Name: ToolCreateAppointment, Class: ClassWrite, Outputs: []string{"appointment"}},
	ToolCancelAppointment: {Name: ToolCancelAppointment, Class: ClassWrite, Outputs: []string{"appointment"}},
	ToolListAppointments:  {Name: ToolListAppointments, Class: ClassRead, Outputs: []string{"appointments", "slots_aggregated"}},
	ToolSummaryHistory:    {Name: ToolSummaryHistory, Class: ClassRead, Outputs: []string{"summary"}},
	ToolSendSMS:           {Name: ToolSendSMS, Class: ClassWrite, Outputs: []string{"sms"}},
	ToolGenerateInvoice:   {Name: ToolGenerateInvoice, Class: ClassWrite, Outputs: []string{"invoice"}},
}

// readOnlyOutputs maps tools to the degraded output set they are limited to
// in READ_ONLY mode. Tools absent from this map keep their full output set.
var readOnlyOutputs = map[string][]string{
	ToolListAppointments: {"slots_aggregated"},
}

// knownRoles is the closed set of caller role tags.
var knownRoles = map[string]bool{
	"receptionist": true,
	"nurse":        true,
	"doctor":       true,
	"billing":      true,
	"custodian":    true,
	"system":       true,
}

// KnownTool reports whether name is in the registered tool set.
func KnownTool(name string) bool {
	_, ok := toolRegistry[name]
	return ok
}

// IsWriteTool reports whether name is a registered WRITE tool.
// Unknown tools are treated as writes so fail-closed rules apply to them.
func IsWriteTool(name string) bool {
	spec, ok := toolRegistry[name]
	if !ok {
		return true
	}
	return spec.Class == ClassWrite
}

// KnownRole reports whether role is in the closed role set.
func KnownRole(role string) bool {
	return knownRoles[role]
}

// ToolOutputs returns the output channels permitted for the tool under the
// given mode. READ_ONLY narrows some tools to a degraded output set.
func ToolOutputs(name string, mode Mode) []string {
	spec, ok := toolRegistry[name]
	if !ok {
		return []string{}
	}
	if mode == ModeReadOnly {
		if degraded, ok := readOnlyOutputs[name]; ok {
			return append([]string(nil), degraded...)
		}
	}
	return append([]string(nil), spec.Outputs...)
}
