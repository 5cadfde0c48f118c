package config

// Configuration names. They are looked up in the process environment first,
// then in the config file under the lower-cased name.
const (
	KeyClusterName      = "CLUSTER_NAME"
	KeyGitHubToken      = "GITHUB_TOKEN"
	KeyGitHubOwner      = "GITHUB_OWNER"
	KeyGitHubRepository = "GITHUB_REPOSITORY"
	KeyGitHubBranch     = "GITHUB_BRANCH"
	KeyGitHubPersonal   = "GITHUB_PERSONAL"
	KeyFluxPath         = "FLUX_PATH"
	KeyGitCAFile        = "GIT_CA_FILE"
	KeyFluxComponents   = "FLUX_COMPONENTS_EXTRA"
	KeyK3sVersion       = "K3S_VERSION"
	KeyK3sInstallURL    = "K3S_INSTALL_URL"
	KeyKubeconfigPath   = "KUBECONFIG_PATH"
	KeyPackages         = "PACKAGES"
	KeyAWSRegion        = "AWS_REGION"
	KeyConnectorRole    = "EKS_CONNECTOR_ROLE_NAME"
	KeyConnectorProxy   = "EKS_CONNECTOR_PROXY"
	KeyVaultAddr        = "VAULT_ADDR"
	KeyVaultToken       = "VAULT_TOKEN"
	KeyVaultKVMount     = "VAULT_KV_MOUNT"
	KeyVaultConfigPath  = "VAULT_CONFIG_PATH"
	KeyVaultReviewerJWT = "VAULT_TOKEN_REVIEWER_JWT"
	KeyImageRegistry    = "IMAGE_REGISTRY"
)

const (
	DefaultGitHubBranch   = "main"
	DefaultK3sInstallURL  = "https://get.k3s.io"
	DefaultKubeconfigPath = "/etc/rancher/k3s/k3s.yaml"
	DefaultVaultKVMount   = "secret"
)

// DefaultPackages are installed with the host package manager before k3s.
var DefaultPackages = []string{"curl", "git", "ca-certificates"}

// baseRequirements must always be set before any step runs.
var baseRequirements = []string{
	KeyClusterName,
	KeyGitHubToken,
	KeyGitHubOwner,
	KeyGitHubRepository,
	KeyAWSRegion,
}
