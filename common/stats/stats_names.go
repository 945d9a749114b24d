package stats

const (
	/****************************** Manager ***************************************/
	/*
		the number of nodes per state, recomputed after every committed transition
	*/
	ManagerNodesDeployingGauge = "nodesDeploying"
	ManagerNodesFreeGauge      = "nodesFree"
	ManagerNodesBusyGauge      = "nodesBusy"
	ManagerNodesToReleaseGauge = "nodesToRelease"
	ManagerNodesDownGauge      = "nodesDown"
	ManagerNodesLockedGauge    = "nodesLocked"
	ManagerNodesPendingGauge   = "nodesPendingPersist"

	/*
		the number of node sources currently registered
	*/
	ManagerNodeSourcesGauge = "nodeSources"

	/*
		committed state transitions and those that could not be persisted
	*/
	ManagerTransitionsCounter         = "transitions"
	ManagerPersistFailuresCounter     = "persistFailures"
	ManagerPendingFlushedCounter      = "pendingFlushed"
	ManagerRejectedNodesCounter       = "policyRejectedNodes"
	ManagerInfrastructureErrorCounter = "infrastructureErrors"

	/*
		1 while the manager accepts requests, 0 while it is recovering
	*/
	ManagerReadyGauge = "ready"

	/*
		time spent in the select nodes call
	*/
	ManagerSelectLatency_ms      = "selectNodesLatency_ms"
	ManagerSelectRequestsCounter = "selectNodesRequests"
	ManagerSelectShortCounter    = "selectNodesShort"

	/****************************** Recovery **************************************/
	/*
		outcome of the last recovery run
	*/
	RecoveryNodeSourcesRecoveredGauge = "nodeSourcesRecovered"
	RecoveryNodeSourcesBrokenGauge    = "nodeSourcesBroken"
	RecoveryNodesAliveGauge           = "nodesAlive"
	RecoveryNodesDownGauge            = "nodesDown"
	RecoveryNodesRedeployedGauge      = "nodesRedeployed"
	RecoveryRemovalsCompletedGauge    = "removalsCompleted"
	RecoveryLatency_ms                = "recoveryLatency_ms"

	/****************************** Liveness **************************************/
	LivenessProbesCounter        = "probes"
	LivenessProbeFailuresCounter = "probeFailures"
	LivenessRecoveredCounter     = "recovered"
	LivenessRoundLatency_ms      = "roundLatency_ms"

	/****************************** Selection *************************************/
	/*
		scripts actually executed against nodes versus skipped because a
		cached non-expired pass made the run unnecessary
	*/
	SelectionScriptRunsCounter     = "scriptRuns"
	SelectionScriptSkippedCounter  = "scriptSkipped"
	SelectionScriptErrorsCounter   = "scriptErrors"
	SelectionExcludedCounter       = "excludedNodes"
	SelectionCacheEvictionsCounter = "cacheEvictions"

	/****************************** Events ****************************************/
	EventsPublishedCounter = "published"
	EventsForwardFailures  = "forwardFailures"
)
