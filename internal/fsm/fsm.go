// internal/fsm/fsm.go

// Package fsm 实现订单与支付共用的状态迁移引擎。
// 引擎是纯函数：只做 (当前状态, 事件) -> 下一状态 的查表与校验，
// 不做任何 I/O；持久化新状态与追加流转日志由调用方在同一事务里完成。
package fsm

import "fmt"

// Table 是一张在进程启动时固定下来的状态迁移表。
// S、E 分别是状态与事件的枚举类型。
type Table[S comparable, E comparable] struct {
	transitions map[S]map[E]S
	// 每个事件有唯一的目标状态，用于区分"非法迁移"和"重复触发"
	targets map[E]S
}

// NewTable 从 (状态 -> 事件 -> 下一状态) 的字面量构建迁移表。
// 同一事件在不同行必须指向同一目标状态，否则直接 panic——
// 这是注册期错误，不应该留到运行时。
func NewTable[S comparable, E comparable](transitions map[S]map[E]S) *Table[S, E] {
	targets := make(map[E]S)
	for _, row := range transitions {
		for event, next := range row {
			if prev, ok := targets[event]; ok && prev != next {
				panic(fmt.Sprintf("fsm: event %v has conflicting target states %v and %v", event, prev, next))
			}
			targets[event] = next
		}
	}
	return &Table[S, E]{transitions: transitions, targets: targets}
}

// Apply 校验并计算一次状态迁移。
//   - (cur, event) 在表中：返回下一状态。
//   - 不在表中，但 event 的目标状态恰好就是 cur：说明这是一次重复触发
//     （例如已 PAID 的订单又收到 PAY），返回 AlreadyInStateError，
//     上层据此做幂等短路而不是重放副作用。
//   - 其余情况一律 IllegalTransitionError，绝不静默降级。
func (t *Table[S, E]) Apply(cur S, event E) (S, error) {
	if row, ok := t.transitions[cur]; ok {
		if next, ok := row[event]; ok {
			return next, nil
		}
	}
	if target, ok := t.targets[event]; ok && target == cur {
		var zero S
		return zero, &AlreadyInStateError{State: fmt.Sprintf("%v", cur), Event: fmt.Sprintf("%v", event)}
	}
	var zero S
	return zero, &IllegalTransitionError{From: fmt.Sprintf("%v", cur), Event: fmt.Sprintf("%v", event)}
}

// CanApply 判断 (cur, event) 是否是一条注册过的迁移。
func (t *Table[S, E]) CanApply(cur S, event E) bool {
	row, ok := t.transitions[cur]
	if !ok {
		return false
	}
	_, ok = row[event]
	return ok
}

// IsTerminal 判断一个状态是否没有任何出边。
func (t *Table[S, E]) IsTerminal(state S) bool {
	row, ok := t.transitions[state]
	return !ok || len(row) == 0
}
