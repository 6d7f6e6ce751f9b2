package config

// mergeRoles merges built-in and user-defined agent roles. User-defined roles
// override built-in roles with the same name, the same override direction the
// teacher uses for its agent/MCP-server/chain merges.
func mergeRoles(builtin map[string]AgentRoleConfig, user map[string]AgentRoleConfig) map[string]*AgentRoleConfig {
	result := make(map[string]*AgentRoleConfig, len(builtin)+len(user))
	for name, role := range builtin {
		roleCopy := role
		result[name] = &roleCopy
	}
	for name, role := range user {
		roleCopy := role
		result[name] = &roleCopy
	}
	return result
}

// mergePipelines merges built-in and user-defined pipeline (workflow)
// definitions. User-defined pipelines override built-in ones with the same
// name.
func mergePipelines(builtin map[string]PipelineDefinition, user map[string]PipelineDefinition) map[string]*PipelineDefinition {
	result := make(map[string]*PipelineDefinition, len(builtin)+len(user))
	for name, p := range builtin {
		pCopy := p
		result[name] = &pCopy
	}
	for name, p := range user {
		pCopy := p
		result[name] = &pCopy
	}
	return result
}
