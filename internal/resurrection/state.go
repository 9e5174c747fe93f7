package resurrection

// State Agent 生命周期状态
type State int

const (
	// StateUnresolved 不存在任何检查点
	StateUnresolved State = iota
	// StateActive 由当前进程中的 Manager 持有，可执行任务
	StateActive
	// StateHibernated 已持久化且无活跃实例
	StateHibernated
)

func (s State) String() string {
	switch s {
	case StateUnresolved:
		return "unresolved"
	case StateActive:
		return "active"
	case StateHibernated:
		return "hibernated"
	default:
		return "unknown"
	}
}

// MarshalText 以字符串形式输出 JSON
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
