package secrets

// Credential bundle fields stored per account.
const (
	FieldAccessToken         = "accessToken"
	FieldRefreshToken        = "refreshToken"
	FieldUserInfo            = "userInfo"
	FieldEnvironments        = "environments"
	FieldSelectedEnvironment = "selectedEnvironment"
)

// Singleton keys.
const (
	// KeyRegistry holds the serialized account list.
	KeyRegistry = "anypoint.accounts"
	// KeyActiveAccount holds the id of the currently active account.
	KeyActiveAccount = "anypoint.activeAccountId"

	// Staging slots for an OAuth exchange that has not been committed to a
	// permanent account yet.
	KeyTempAccessToken  = "anypoint.tempAccessToken"
	KeyTempRefreshToken = "anypoint.tempRefreshToken"

	// KeyAdminAPIKey protects the local admin API.
	KeyAdminAPIKey = "hub.apiKey"
)

// BundleFields lists every per-account credential field. Removal of an
// account deletes all of them.
var BundleFields = []string{
	FieldAccessToken,
	FieldRefreshToken,
	FieldUserInfo,
	FieldEnvironments,
	FieldSelectedEnvironment,
}

// AccountKey builds the namespaced key for one field of one account,
// e.g. "anypoint.account.org1-17251234.accessToken".
func AccountKey(accountID, field string) string {
	return "anypoint.account." + accountID + "." + field
}

// LegacyKey builds the unscoped pre-multi-account key for a field,
// e.g. "anypoint.accessToken". Kept for backward compatibility; the legacy
// bundle is migrated, never deleted.
func LegacyKey(field string) string {
	return "anypoint." + field
}
