package bot

// Status 节点执行状态
type Status int

const (
	StatusSuccess Status = iota
	StatusFailure
	StatusRunning
)

// Node 行为树节点接口
type Node interface {
	Tick(bb *Blackboard) Status
}

// Selector 选择节点：遇到非 Failure 即返回
type Selector struct {
	Children []Node
}

func (s *Selector) Tick(bb *Blackboard) Status {
	for _, child := range s.Children {
		if status := child.Tick(bb); status != StatusFailure {
			return status
		}
	}
	return StatusFailure
}

// Sequence 顺序节点：遇到 Failure 停止，全 Success 才 Success
type Sequence struct {
	Children []Node
}

func (s *Sequence) Tick(bb *Blackboard) Status {
	for _, child := range s.Children {
		if status := child.Tick(bb); status != StatusSuccess {
			return status
		}
	}
	return StatusSuccess
}

// Condition 条件节点
type Condition func(bb *Blackboard) bool

func (c Condition) Tick(bb *Blackboard) Status {
	if c != nil && c(bb) {
		return StatusSuccess
	}
	return StatusFailure
}

// Action 动作节点
type Action func(bb *Blackboard) Status

func (a Action) Tick(bb *Blackboard) Status {
	if a == nil {
		return StatusFailure
	}
	return a(bb)
}
