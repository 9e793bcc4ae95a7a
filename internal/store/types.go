// Package store holds the request and record types exchanged with the project
// and image store services.
package store

// ImageSourceType says where an image's content comes from.
type ImageSourceType string

const (
	ImageSourceBKDevops ImageSourceType = "BKDEVOPS"
	ImageSourceThird    ImageSourceType = "THIRD"
)

// ImageRDType distinguishes first-party and third-party images on approval.
type ImageRDType string

const (
	RDTypeSelfDeveloped ImageRDType = "SELF_DEVELOPED"
	RDTypeThirdParty    ImageRDType = "THIRD_PARTY"
)

// ImageAgentType is a build agent type an image may run on.
type ImageAgentType string

const (
	AgentTypeDocker         ImageAgentType = "DOCKER"
	AgentTypeIDC            ImageAgentType = "IDC"
	AgentTypePublicDevcloud ImageAgentType = "PUBLIC_DEVCLOUD"
)

// AllAgentTypes returns every agent type in declaration order.
func AllAgentTypes() []ImageAgentType {
	return []ImageAgentType{AgentTypeDocker, AgentTypeIDC, AgentTypePublicDevcloud}
}

// ReleaseType classifies a version bump.
type ReleaseType string

const (
	ReleaseTypeNew                    ReleaseType = "NEW"
	ReleaseTypeIncompatibilityUpgrade ReleaseType = "INCOMPATIBILITY_UPGRADE"
	ReleaseTypeCompatibilityUpgrade   ReleaseType = "COMPATIBILITY_UPGRADE"
	ReleaseTypeCompatibilityFix       ReleaseType = "COMPATIBILITY_FIX"
	ReleaseTypeCancelReRelease        ReleaseType = "CANCEL_RE_RELEASE"
)

// Approval results.
const (
	ApprovePass   = "PASS"
	ApproveReject = "REJECT"
)

// Project is the subset of a project record the seeder reads.
type Project struct {
	ID          string `json:"id,omitempty"`
	ProjectName string `json:"projectName"`
	ProjectCode string `json:"projectCode"`
	EnglishName string `json:"englishName,omitempty"`
	Description string `json:"description,omitempty"`
}

// ProjectCreateInfo is the body of a create-project call.
type ProjectCreateInfo struct {
	ProjectName string `json:"projectName"`
	EnglishName string `json:"englishName"`
	Description string `json:"description"`
}

// ImageRelRequest registers an image code against a project.
type ImageRelRequest struct {
	ProjectCode     string          `json:"projectCode"`
	ImageName       string          `json:"imageName"`
	ImageSourceType ImageSourceType `json:"imageSourceType"`
	TicketID        *string         `json:"ticketId"`
}

// ImageUpdateRequest carries the full descriptor of an image version.
type ImageUpdateRequest struct {
	ImageCode         string           `json:"imageCode"`
	ImageName         string           `json:"imageName"`
	ClassifyCode      string           `json:"classifyCode"`
	LabelIDList       []string         `json:"labelIdList"`
	Category          string           `json:"category"`
	AgentTypeScope    []ImageAgentType `json:"agentTypeScope"`
	Summary           string           `json:"summary"`
	Description       string           `json:"description"`
	LogoURL           string           `json:"logoUrl"`
	IconData          *string          `json:"iconData"`
	TicketID          *string          `json:"ticketId"`
	ImageSourceType   ImageSourceType  `json:"imageSourceType"`
	ImageRepoURL      string           `json:"imageRepoUrl"`
	ImageRepoName     string           `json:"imageRepoName"`
	ImageTag          string           `json:"imageTag"`
	DockerFileType    string           `json:"dockerFileType"`
	DockerFileContent *string          `json:"dockerFileContent"`
	Version           string           `json:"version"`
	ReleaseType       ReleaseType      `json:"releaseType"`
	VersionContent    string           `json:"versionContent"`
	Publisher         string           `json:"publisher"`
}

// UpdateOptions are the behaviour flags sent alongside an ImageUpdateRequest.
type UpdateOptions struct {
	CheckLatest           bool
	SendCheckResultNotify bool
	RunCheckPipeline      bool
}

// ApproveImageRequest moves an image version to its terminal approval state.
type ApproveImageRequest struct {
	ImageCode         string      `json:"imageCode"`
	PublicFlag        bool        `json:"publicFlag"`
	RecommendFlag     bool        `json:"recommendFlag"`
	CertificationFlag bool        `json:"certificationFlag"`
	RDType            ImageRDType `json:"rdType"`
	Weight            int         `json:"weight"`
	Result            string      `json:"result"`
	Message           string      `json:"message"`
}
