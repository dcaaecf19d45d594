package db

// System user UUIDs for automated actions. These correspond to system users
// seeded in the database; auto-resolutions attribute resolved_by to them and
// the matching event rows carry created_by_kind = 'system'.
const (
	// SystemUserPrometheus represents Prometheus Alertmanager
	SystemUserPrometheus = "00000000-0000-0000-0000-000000000001"

	// SystemUserDatadog represents Datadog monitoring
	SystemUserDatadog = "00000000-0000-0000-0000-000000000002"

	// SystemUserUptime represents the internal uptime prober
	SystemUserUptime = "00000000-0000-0000-0000-000000000003"

	// SystemUserWebhook represents generic webhook sources
	SystemUserWebhook = "00000000-0000-0000-0000-000000000005"

	// SystemUserAPI represents API system actions
	SystemUserAPI = "00000000-0000-0000-0000-000000000006"
)

// GetSystemUserBySource returns the system user ID for an alert source.
func GetSystemUserBySource(source string) string {
	switch source {
	case SourcePrometheus:
		return SystemUserPrometheus
	case SourceDatadog:
		return SystemUserDatadog
	case SourceUptime:
		return SystemUserUptime
	case SourceWebhook:
		return SystemUserWebhook
	case "api":
		return SystemUserAPI
	default:
		return SystemUserWebhook
	}
}
