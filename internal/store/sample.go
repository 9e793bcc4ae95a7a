package store

// Sample is the fixed set of identifiers and payloads for one seeding run.
type Sample struct {
	ProjectCode string
	UserID      string
	ImageCode   string

	Project ProjectCreateInfo
	Update  ImageUpdateRequest
	Approve ApproveImageRequest
}

const demoDockerfile = "FROM bkci/ci:latest\n RUN apt install -y git python-pip python3-pip\n"

// DemoSample returns the demo project and CI base image seeded into a fresh
// deployment, parameterised by the three identifiers.
func DemoSample(projectCode, userID, imageCode string) Sample {
	dockerfile := demoDockerfile
	return Sample{
		ProjectCode: projectCode,
		UserID:      userID,
		ImageCode:   imageCode,
		Project: ProjectCreateInfo{
			ProjectName: "Demo",
			EnglishName: projectCode,
			Description: "demo project",
		},
		Update: ImageUpdateRequest{
			ImageCode:         imageCode,
			ImageName:         imageCode,
			ClassifyCode:      "BASE",
			Category:          "PIPELINE_JOB",
			AgentTypeScope:    AllAgentTypes(),
			Summary:           "CI basic image based on tlinux2.2",
			Description:       "Docker public build machine build machine base image",
			LogoURL:           "/ms/artifactory/api/user/artifactories/file/download?filePath=%2Ffile%2Fpng%2FgithubTrigger.png",
			ImageSourceType:   ImageSourceThird,
			ImageRepoURL:      "",
			ImageRepoName:     "bkci/ci",
			ImageTag:          "latest",
			DockerFileType:    "INPUT",
			DockerFileContent: &dockerfile,
			Version:           "1.0.0",
			ReleaseType:       ReleaseTypeNew,
			VersionContent:    imageCode,
			Publisher:         userID,
		},
		Approve: ApproveImageRequest{
			ImageCode:         imageCode,
			PublicFlag:        true,
			RecommendFlag:     true,
			CertificationFlag: false,
			RDType:            RDTypeThirdParty,
			Weight:            1,
			Result:            ApprovePass,
			Message:           "ok",
		},
	}
}

// RelRequest is the registration body for the sample image.
func (s Sample) RelRequest() ImageRelRequest {
	return ImageRelRequest{
		ProjectCode:     s.ProjectCode,
		ImageName:       s.ImageCode,
		ImageSourceType: ImageSourceThird,
	}
}

// SeedOptions are the update flags used when seeding: the seeded image is
// approved directly, so the asynchronous check pipeline and its notification
// stay off.
func SeedOptions() UpdateOptions {
	return UpdateOptions{}
}
