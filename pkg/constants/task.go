package constants

// TaskType 任务来源
type TaskType string

const (
	TaskTypeSYSTEM TaskType = "SYSTEM" // 代码中 RegisterAuto 注册
	TaskTypeYAML   TaskType = "YAML"   // 配置文件 jobs 段
)

// 任务运行状态
const (
	TaskStatusIdle    = "Idle"
	TaskStatusRunning = "Running"
	TaskStatusError   = "Error"
)
