package models

// EventType is one entry of the fixed catalogue of audited operations.
type EventType string

const (
	EventZoneCreate         EventType = "ZONE_CREATE"
	EventZoneUpdate         EventType = "ZONE_UPDATE"
	EventZoneDelete         EventType = "ZONE_DELETE"
	EventNodeAssignWorker   EventType = "NODE_ASSIGN_WORKER"
	EventNodeAssignPortal   EventType = "NODE_ASSIGN_PORTAL"
	EventNodeUnassign       EventType = "NODE_UNASSIGN"
	EventNodeDelete         EventType = "NODE_DELETE"
	EventWorkerCreate       EventType = "WORKER_CREATE"
	EventWorkerUpdate       EventType = "WORKER_UPDATE"
	EventWorkerEnable       EventType = "WORKER_ENABLE"
	EventWorkerDisable      EventType = "WORKER_DISABLE"
	EventWorkerDelete       EventType = "WORKER_DELETE"
	EventPortalCreate       EventType = "PORTAL_CREATE"
	EventPortalUpdate       EventType = "PORTAL_UPDATE"
	EventPortalEnable       EventType = "PORTAL_ENABLE"
	EventPortalDisable      EventType = "PORTAL_DISABLE"
	EventPortalDelete       EventType = "PORTAL_DELETE"
	EventTransponderCreate  EventType = "TRANSPONDER_CREATE"
	EventTransponderUpdate  EventType = "TRANSPONDER_UPDATE"
	EventTransponderEnable  EventType = "TRANSPONDER_ENABLE"
	EventTransponderDisable EventType = "TRANSPONDER_DISABLE"
	EventTransponderDelete  EventType = "TRANSPONDER_DELETE"
	EventResourceConverged  EventType = "RESOURCE_CONVERGED"
	EventResourceRollback   EventType = "RESOURCE_ROLLBACK"
)

var eventTypes = map[EventType]bool{
	EventZoneCreate: true, EventZoneUpdate: true, EventZoneDelete: true,
	EventNodeAssignWorker: true, EventNodeAssignPortal: true, EventNodeUnassign: true, EventNodeDelete: true,
	EventWorkerCreate: true, EventWorkerUpdate: true, EventWorkerEnable: true, EventWorkerDisable: true, EventWorkerDelete: true,
	EventPortalCreate: true, EventPortalUpdate: true, EventPortalEnable: true, EventPortalDisable: true, EventPortalDelete: true,
	EventTransponderCreate: true, EventTransponderUpdate: true, EventTransponderEnable: true,
	EventTransponderDisable: true, EventTransponderDelete: true,
	EventResourceConverged: true, EventResourceRollback: true,
}

// Known reports whether t belongs to the catalogue.
func (t EventType) Known() bool {
	return eventTypes[t]
}

// PropertyKey names a changed field recorded on an event.
type PropertyKey string

const (
	PropNewName       PropertyKey = "NEW_NAME"
	PropNewHostname   PropertyKey = "NEW_HOSTNAME"
	PropNewProtocol   PropertyKey = "NEW_PROTOCOL"
	PropNewPort       PropertyKey = "NEW_PORT"
	PropNewTargetPort PropertyKey = "NEW_TARGET_PORT"
	PropNewPath       PropertyKey = "NEW_PATH"
	PropNewPriority   PropertyKey = "NEW_PRIORITY"
	PropNewAddress    PropertyKey = "NEW_ADDRESS"
	PropForceResync   PropertyKey = "FORCE_RESYNC"
	PropNewStatus     PropertyKey = "NEW_STATUS"
	PropPreviousZone  PropertyKey = "PREVIOUS_ZONE"
)
