package types

import "time"

// LocalApplicationEntity is a configured local AE title: a named DIMSE
// storage destination with its own processor pipeline.
type LocalApplicationEntity struct {
	Name                  string
	AETitle               string
	OverwriteSameInstance bool
	IgnoredSOPClasses     map[string]struct{}
	ProcessorName         string
	ProcessorSettings     []KeyValue
}

// KeyValue preserves insertion order for ProcessorSettings, which is
// specified as an ordered mapping.
type KeyValue struct {
	Key   string
	Value string
}

// SourceApplicationEntity is a remote AE allowed to open associations
// when scp.rejectUnknownSources is enabled.
type SourceApplicationEntity struct {
	AETitle string
	HostIP  string
}

// DestinationApplicationEntity is an export target addressed by name
// from an ExportTask's parameters.
type DestinationApplicationEntity struct {
	Name    string
	AETitle string
	HostIP  string
	Port    int
}

// InstanceStorageInfo describes a single DICOM instance persisted to
// local storage, from C-STORE acceptance through to reclamation.
type InstanceStorageInfo struct {
	SOPInstanceUID    string
	StudyInstanceUID  string
	SeriesInstanceUID string
	PatientID         string
	SOPClassUID       string
	CalledAETitle     string
	AssociationID     uint32
	StoragePath       string
}

// RequestState is the lifecycle state of an InferenceRequest.
type RequestState string

const (
	RequestStateQueued    RequestState = "Queued"
	RequestStateInProcess RequestState = "InProcess"
	RequestStateCompleted RequestState = "Completed"
)

// RequestStatus is the terminal outcome recorded on an InferenceRequest.
type RequestStatus string

const (
	RequestStatusUnknown RequestStatus = "Unknown"
	RequestStatusSuccess RequestStatus = "Success"
	RequestStatusFail    RequestStatus = "Fail"
)

// InputDetailsType discriminates the typed union carried by
// InputMetadata.Details.
type InputDetailsType string

const (
	DetailsDICOMUID        InputDetailsType = "DICOM_UID"
	DetailsDICOMPatientID  InputDetailsType = "DICOM_PATIENT_ID"
	DetailsAccessionNumber InputDetailsType = "ACCESSION_NUMBER"
)

// StudySelector names a study and, optionally, the series/instances
// within it to retrieve. Omitted Series means "the whole study";
// omitted Instances within a named series means "the whole series".
type StudySelector struct {
	StudyInstanceUID string
	Series           []SeriesSelector
}

// SeriesSelector names a series and, optionally, the instances within
// it to retrieve.
type SeriesSelector struct {
	SeriesInstanceUID string
	SOPInstanceUIDs   []string
}

// InputDetails is the typed union of retrieval criteria an
// InferenceRequest can carry. Exactly one field group is populated,
// selected by Type.
type InputDetails struct {
	Type InputDetailsType

	// Populated when Type == DetailsDICOMUID.
	Studies []StudySelector

	// Populated when Type == DetailsDICOMPatientID.
	PatientID string

	// Populated when Type == DetailsAccessionNumber.
	AccessionNumbers []string
}

// InputMetadata wraps the retrieval-criteria union carried by an
// InferenceRequest's input resources.
type InputMetadata struct {
	Details InputDetails
}

// ResourceKind distinguishes an InferenceRequest's InputResources:
// exactly one Algorithm plus one or more retrieval resources.
type ResourceKind string

const (
	ResourceKindAlgorithm ResourceKind = "Algorithm"
	ResourceKindDICOMweb  ResourceKind = "DICOMweb"
)

// InputResource is one entry of an InferenceRequest's InputResources
// list.
type InputResource struct {
	Kind          ResourceKind
	InputMetadata InputMetadata
}

// InferenceRequest is the ACR-shaped unit of work pulled from the
// repository by InferenceRequestRetrieval.
type InferenceRequest struct {
	TransactionID   string
	Priority        uint8
	InputResources  []InputResource
	OutputResources []InputResource
	JobID           string
	PayloadID       string
	StoragePath     string
	State           RequestState
	Status          RequestStatus
	TryCount        int
}

// JobState is the monotone lifecycle state of an InferenceJob.
type JobState string

const (
	JobStateCreated          JobState = "Created"
	JobStateMetadataUploaded JobState = "MetadataUploaded"
	JobStatePayloadUploaded  JobState = "PayloadUploaded"
	JobStateStarted          JobState = "Started"
	JobStateFailed           JobState = "Failed"
)

// InferenceJob is a unit of work submitted to the platform, grouping
// one or more instances under a single pipeline invocation.
type InferenceJob struct {
	JobID      string
	PayloadID  string
	JobName    string
	PipelineID string
	Priority   uint8
	Instances  []InstanceStorageInfo
	State      JobState
	Retries    int
}

// ExportTask is a unit of export work delivered by the external
// results service and settled by reporting success or failure.
type ExportTask struct {
	TaskID     string
	JobID      string
	PayloadID  string
	Agent      string
	Parameters []byte
	URIs       []string
	Retries    int
}

// Priority is the normalized job priority used by the platform client,
// mapped from InferenceJob.Priority / ExportTask priority per §4.9.
type Priority string

const (
	PriorityLower     Priority = "Lower"
	PriorityNormal    Priority = "Normal"
	PriorityHigher    Priority = "Higher"
	PriorityImmediate Priority = "Immediate"
)

// MapPriority implements the §4.9 priority-mapping rule: p < 128 →
// Lower, p == 128 → Normal, p == 255 → Immediate, else Higher.
func MapPriority(p uint8) Priority {
	switch {
	case p < 128:
		return PriorityLower
	case p == 128:
		return PriorityNormal
	case p == 255:
		return PriorityImmediate
	default:
		return PriorityHigher
	}
}

// ServiceStatus is the status a long-running service publishes to the
// HealthReporter.
type ServiceStatus string

const (
	ServiceStatusUnknown   ServiceStatus = "Unknown"
	ServiceStatusStopped   ServiceStatus = "Stopped"
	ServiceStatusRunning   ServiceStatus = "Running"
	ServiceStatusCancelled ServiceStatus = "Cancelled"
)

// ServiceStatusReport pairs a service name with its last published
// status and the time it was observed.
type ServiceStatusReport struct {
	Name     string
	Status   ServiceStatus
	Observed time.Time
}
