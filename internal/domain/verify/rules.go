package verify

// ApplyRules evaluates the in-process hard invariants in their fixed order and
// returns every violation found. The checks are deterministic and never touch
// the network; rate limiting is a separate pipeline stage.
//
// Order: tenant, patient, tool, role, mode recognition, kill switch,
// write-in-read-only. A non-empty result means the terminal decision is DENY.
func ApplyRules(req Request) []string {
	var violations []string

	if req.TenantID() == "" {
		violations = append(violations, ViolationMissingTenantID)
	}
	if req.PatientID() == "" {
		violations = append(violations, ViolationMissingPatientID)
	}
	if !KnownTool(req.Tool) {
		violations = append(violations, ViolationUnknownTool)
	}
	if !KnownRole(req.Role) {
		violations = append(violations, ViolationUnknownRole)
	}

	switch {
	case !KnownMode(req.Mode):
		violations = append(violations, ViolationUnknownMode)
	case req.Mode == ModeKillSwitch:
		// Kill switch subsumes every other mode rule; the decision is DENY
		// regardless of what else is reported.
		violations = append(violations, ViolationKillSwitch)
	case req.Mode == ModeReadOnly && KnownTool(req.Tool) && IsWriteTool(req.Tool):
		violations = append(violations, ViolationReadOnlyNoWrite)
	}

	return violations
}
