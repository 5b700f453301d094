package session

// State 会话状态
type State int

const (
	// StateClosed 未打开或已关闭，致命连接错误后也进入该状态
	StateClosed State = iota
	// StateOpen 传输已建立且已处于默认权限级别
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}
