package engine

// Exported entry points of the engine module. The set is closed: the
// dispatcher refuses names outside this list so a typo cannot reach a
// mismatched free routine.
const (
	// Attachment protocol. attach_thread returns the token passed as the
	// first argument of every other entry point.
	EntryAttachThread = "attach_thread"
	EntryDetachThread = "detach_thread"

	// Engine-side allocator, used for host-owned buffers. Buffers obtained
	// here are freed with engine_free only, never the per-kind routines.
	EntryAlloc = "engine_alloc"
	EntryFree  = "engine_free"

	EntrySetLogLevel         = "set_log_level"
	EntryDestroyObjectHandle = "destroy_object_handle"

	// Per-kind release routines for engine-allocated results. Each layout
	// has exactly one matching free entry point.
	EntryFreeString                      = "free_string"
	EntryFreeArray                       = "free_array"
	EntryFreeStringArray                 = "free_string_array"
	EntryFreeStringMap                   = "free_string_map"
	EntryFreeComponentResultArray        = "free_component_result_array"
	EntryFreeContingencyResultArray      = "free_contingency_result_array"
	EntryFreeOperatorStrategyResultArray = "free_operator_strategy_result_array"
	EntryFreeLoadFlowParameters          = "free_load_flow_parameters"
	EntryFreeSecurityParameters          = "free_security_analysis_parameters"
	EntryFreeSensitivityParameters       = "free_sensitivity_analysis_parameters"
	EntryFreeShortCircuitParameters      = "free_short_circuit_analysis_parameters"
	EntryFreeFlowDecompositionParameters = "free_flow_decomposition_parameters"
	EntryFreeSldParameters               = "free_sld_parameters"

	EntryGetVersionTable                   = "get_version_table"
	EntryGetLoadFlowProviderNames          = "get_load_flow_provider_names"
	EntryGetSecurityProviderNames          = "get_security_analysis_provider_names"
	EntryGetSensitivityProviderNames       = "get_sensitivity_analysis_provider_names"
	EntryGetShortCircuitProviderNames      = "get_short_circuit_analysis_provider_names"
	EntryCreateNetwork                     = "create_network"
	EntryLoadNetwork                       = "load_network"
	EntrySaveNetworkToString               = "save_network_to_string"
	EntryGetNetworkElementIDs              = "get_network_element_ids"
	EntryGetNetworkMetadata                = "get_network_metadata"
	EntryCreateLoadFlowParameters          = "create_load_flow_parameters"
	EntryCreateSecurityParameters          = "create_security_analysis_parameters"
	EntryCreateSensitivityParameters       = "create_sensitivity_analysis_parameters"
	EntryCreateShortCircuitParameters      = "create_short_circuit_analysis_parameters"
	EntryCreateFlowDecompositionParameters = "create_flow_decomposition_parameters"
	EntryCreateSldParameters               = "create_sld_parameters"
	EntryRunLoadFlow                       = "run_load_flow"
	EntryCreateSecurityAnalysis            = "create_security_analysis"
	EntryAddContingency                    = "add_contingency"
	EntryRunSecurityAnalysis               = "run_security_analysis"
	EntryGetPostContingencyResults         = "get_post_contingency_results"
	EntryGetOperatorStrategyResults        = "get_operator_strategy_results"
	EntryCreateSensitivityAnalysis         = "create_sensitivity_analysis"
	EntryAddFactorMatrix                   = "add_factor_matrix"
	EntryRunSensitivityAnalysis            = "run_sensitivity_analysis"
	EntryGetSensitivityMatrix              = "get_sensitivity_matrix"
	EntryCreateShortCircuitAnalysis        = "create_short_circuit_analysis"
	EntryRunShortCircuitAnalysis           = "run_short_circuit_analysis"
)

// Known reports whether name is part of the engine's export surface.
func Known(name string) bool {
	_, ok := entrySet[name]
	return ok
}

var entrySet = map[string]struct{}{
	EntryAttachThread:                      {},
	EntryDetachThread:                      {},
	EntryAlloc:                             {},
	EntryFree:                              {},
	EntrySetLogLevel:                       {},
	EntryDestroyObjectHandle:               {},
	EntryFreeString:                        {},
	EntryFreeArray:                         {},
	EntryFreeStringArray:                   {},
	EntryFreeStringMap:                     {},
	EntryFreeComponentResultArray:          {},
	EntryFreeContingencyResultArray:        {},
	EntryFreeOperatorStrategyResultArray:   {},
	EntryFreeLoadFlowParameters:            {},
	EntryFreeSecurityParameters:            {},
	EntryFreeSensitivityParameters:         {},
	EntryFreeShortCircuitParameters:        {},
	EntryFreeFlowDecompositionParameters:   {},
	EntryFreeSldParameters:                 {},
	EntryGetVersionTable:                   {},
	EntryGetLoadFlowProviderNames:          {},
	EntryGetSecurityProviderNames:          {},
	EntryGetSensitivityProviderNames:       {},
	EntryGetShortCircuitProviderNames:      {},
	EntryCreateNetwork:                     {},
	EntryLoadNetwork:                       {},
	EntrySaveNetworkToString:               {},
	EntryGetNetworkElementIDs:              {},
	EntryGetNetworkMetadata:                {},
	EntryCreateLoadFlowParameters:          {},
	EntryCreateSecurityParameters:          {},
	EntryCreateSensitivityParameters:       {},
	EntryCreateShortCircuitParameters:      {},
	EntryCreateFlowDecompositionParameters: {},
	EntryCreateSldParameters:               {},
	EntryRunLoadFlow:                       {},
	EntryCreateSecurityAnalysis:            {},
	EntryAddContingency:                    {},
	EntryRunSecurityAnalysis:               {},
	EntryGetPostContingencyResults:         {},
	EntryGetOperatorStrategyResults:        {},
	EntryCreateSensitivityAnalysis:         {},
	EntryAddFactorMatrix:                   {},
	EntryRunSensitivityAnalysis:            {},
	EntryGetSensitivityMatrix:              {},
	EntryCreateShortCircuitAnalysis:        {},
	EntryRunShortCircuitAnalysis:           {},
}
