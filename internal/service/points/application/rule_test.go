// internal/service/points/application/rule_test.go
package application

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultEarnRule(t *testing.T) {
	t.Parallel()

	rule, err := NewEarnRule(DefaultEarnExpression)
	require.NoError(t, err)

	cases := []struct {
		amount int64
		level  int64
		points int64
	}{
		{19900, 1, 199},  // 每满 1 元得 1 分
		{19900, 3, 398},  // 3 级及以上双倍
		{19999, 5, 398},  // 不足 1 元的尾数不计
		{99, 1, 0},       // 不足 1 元不发
		{0, 1, 0},
	}
	for _, tc := range cases {
		points, err := rule.Points(tc.amount, tc.level)
		require.NoError(t, err)
		require.Equal(t, tc.points, points, "amount=%d level=%d", tc.amount, tc.level)
	}
}

func TestCustomEarnExpression(t *testing.T) {
	t.Parallel()

	// 大促规则：固定 10 倍
	rule, err := NewEarnRule(`(amount / 100) * 10`)
	require.NoError(t, err)

	points, err := rule.Points(500, 1)
	require.NoError(t, err)
	require.Equal(t, int64(50), points)
}

func TestEarnRuleClampsNegativeResult(t *testing.T) {
	t.Parallel()

	rule, err := NewEarnRule(`amount - 1000`)
	require.NoError(t, err)

	points, err := rule.Points(100, 1)
	require.NoError(t, err)
	require.Equal(t, int64(0), points)
}

func TestEarnRuleRejectsInvalidExpression(t *testing.T) {
	t.Parallel()

	// 语法错误
	_, err := NewEarnRule(`amount +`)
	require.Error(t, err)

	// 未声明的变量
	_, err = NewEarnRule(`amount * vip_bonus`)
	require.Error(t, err)

	// 返回值不是整数
	_, err = NewEarnRule(`amount > 100`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "must return an integer")
}
