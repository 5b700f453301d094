package connection

// ConnectionState 连接池中驱动的状态
type ConnectionState int

const (
	// StateIdle 驱动已打开，未被使用
	StateIdle ConnectionState = iota
	// StateAcquired 驱动正被某个任务使用
	StateAcquired
	// StateClosed 驱动已关闭，需要重新创建
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateAcquired:
		return "Acquired"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// CanTransition 检查是否可以从当前状态转换到目标状态
func CanTransition(current, target ConnectionState) bool {
	switch current {
	case StateIdle:
		return target == StateAcquired || target == StateClosed
	case StateAcquired:
		return target == StateIdle || target == StateClosed
	case StateClosed:
		// 关闭后只能重新获取（重建驱动）
		return target == StateAcquired
	default:
		return false
	}
}
