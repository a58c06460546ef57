package i18n

var ALLOW_LANG = map[string]bool{
	"en":    true,
	"zh-CN": true,
}

const DEFAULT_LANG = "en"

const (
	ERROR_INTERNAL          = "error.internal"
	ERROR_INVALIDARGUMENT   = "error.invalidargument"
	ERROR_NOT_FOUND         = "error.notfound"
	ERROR_CONNECTIVITY      = "error.connectivity"
	ERROR_BAD_REQUEST       = "error.bad_request"
	ERROR_SERVER            = "error.server"
	ERROR_UNEXPECTED_STATUS = "error.unexpected_status"
	ERROR_MALFORMED_MESSAGE = "error.malformed_message"
	ERROR_CHANNEL_EXHAUSTED = "error.channel_exhausted"
	ERROR_JOB_FAILED        = "error.job_failed"
	ERROR_NO_CONTENT_SOURCE = "error.no_content_source"
	ERROR_PAGE_COUNT_RANGE  = "error.page_count_range"
	ERROR_NO_CURRENT_TASK   = "error.no_current_task"
	ERROR_TASK_FOLLOWED     = "error.task_followed"

	MESSAGE_CONNECTION_LOST     = "message.connection_lost"
	MESSAGE_CONNECTION_RESTORED = "message.connection_restored"
	MESSAGE_JOB_COMPLETED       = "message.job_completed"
	MESSAGE_JOB_FAILED          = "message.job_failed"
	MESSAGE_ARTIFACT_SAVED      = "message.artifact_saved"
	MESSAGE_BACKEND_UNREACHABLE = "message.backend_unreachable"
	MESSAGE_BACKEND_RESTORED    = "message.backend_restored"
	MESSAGE_STREAM_CLOSED       = "message.stream_closed"
	MESSAGE_FEEDBACK_EMPTY      = "message.feedback_empty"
)
