// internal/service/inventory/store.go
package inventory

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"meridian/internal/pkg/redis"
)

const (
	reserveScriptName = "inventory_reserve"
	releaseScriptName = "inventory_release"
	confirmScriptName = "inventory_confirm"
)

var (
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Store 基于 Redis 实现库存的预占/释放/实扣。
// 所有操作以 refNo（订单号）为引用号幂等：脚本先查预占哈希，
// 同一引用号的重复调用直接返回首次的结果，不会二次扣减。
//
// refNo -> skuID 的索引集合让 Release / Confirm 只凭引用号就能工作，
// 调用方（订单服务的补偿路径）不需要带商品明细。
type Store struct {
	redisClient *redis.Client
}

// NewStore 创建库存存储，并在启动时加载全部 Lua 脚本。
func NewStore(redisClient *redis.Client) (*Store, error) {
	scripts := map[string]string{
		reserveScriptName: reserveScript,
		releaseScriptName: releaseScript,
		confirmScriptName: confirmScript,
	}
	for name, content := range scripts {
		if err := redisClient.LoadScriptFromContent(name, content); err != nil {
			return nil, fmt.Errorf("failed to load inventory script %s: %w", name, err)
		}
	}
	return &Store{redisClient: redisClient}, nil
}

func stockKey(skuID int64) string {
	return fmt.Sprintf("inventory:stock:%d", skuID)
}

func reservationKey(skuID int64) string {
	return fmt.Sprintf("inventory:reserved:%d", skuID)
}

func refIndexKey(refNo string) string {
	return fmt.Sprintf("inventory:ref:%s", refNo)
}

// Reserve 为引用号预占一组 SKU。任何一个 SKU 库存不足时，
// 回滚本次已预占的部分再返回错误，让重试从干净状态开始。
func (s *Store) Reserve(ctx context.Context, refNo string, items map[int64]int) error {
	rdb := s.redisClient.GetClient()
	for skuID, quantity := range items {
		// 先登记索引再扣减：失败路径宁可多一次 no-op 释放
		if err := rdb.SAdd(ctx, refIndexKey(refNo), skuID).Err(); err != nil {
			return fmt.Errorf("failed to index reservation for sku %d: %w", skuID, err)
		}
		result, err := s.redisClient.RunScript(ctx, reserveScriptName,
			[]string{stockKey(skuID), reservationKey(skuID)},
			refNo, strconv.Itoa(quantity))
		if err != nil {
			return fmt.Errorf("failed to run reserve script for sku %d: %w", skuID, err)
		}
		if code, _ := result.(int64); code == 0 {
			if relErr := s.Release(ctx, refNo); relErr != nil {
				return fmt.Errorf("sku %d out of stock and rollback failed: %v: %w", skuID, relErr, ErrInsufficientStock)
			}
			return fmt.Errorf("sku %d: %w", skuID, ErrInsufficientStock)
		}
	}
	return nil
}

// Release 释放引用号的全部在途预占，没有预占时是 no-op。
func (s *Store) Release(ctx context.Context, refNo string) error {
	return s.forEachReserved(ctx, refNo, releaseScriptName)
}

// Confirm 把引用号的预占转为实扣（删除预占记录，不返还库存）。
func (s *Store) Confirm(ctx context.Context, refNo string) error {
	return s.forEachReserved(ctx, refNo, confirmScriptName)
}

func (s *Store) forEachReserved(ctx context.Context, refNo string, scriptName string) error {
	rdb := s.redisClient.GetClient()
	skuIDs, err := rdb.SMembers(ctx, refIndexKey(refNo)).Result()
	if err != nil {
		return fmt.Errorf("failed to load reservation index for %s: %w", refNo, err)
	}
	for _, raw := range skuIDs {
		skuID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		if _, err := s.redisClient.RunScript(ctx, scriptName,
			[]string{stockKey(skuID), reservationKey(skuID)}, refNo); err != nil {
			return fmt.Errorf("failed to run %s for sku %d: %w", scriptName, skuID, err)
		}
	}
	return rdb.Del(ctx, refIndexKey(refNo)).Err()
}

// SetStock 初始化 SKU 库存，测试与管理接口用。
func (s *Store) SetStock(ctx context.Context, skuID int64, stock int) error {
	return s.redisClient.GetClient().Set(ctx, stockKey(skuID), stock, 0).Err()
}

// GetStock 查询 SKU 当前可售库存。
func (s *Store) GetStock(ctx context.Context, skuID int64) (int, error) {
	return s.redisClient.GetClient().Get(ctx, stockKey(skuID)).Int()
}

// reserveScript 预占库存。
// KEYS[1]: 可售库存
// KEYS[2]: 预占哈希 refNo -> quantity
// ARGV[1]: refNo
// ARGV[2]: quantity
// 返回 1 成功（含重复调用），0 库存不足。
var reserveScript = `
local reserved = redis.call('HGET', KEYS[2], ARGV[1])
if reserved then
    return 1
end
local stock = tonumber(redis.call('GET', KEYS[1]) or '0')
local quantity = tonumber(ARGV[2])
if stock < quantity then
    return 0
end
redis.call('DECRBY', KEYS[1], quantity)
redis.call('HSET', KEYS[2], ARGV[1], quantity)
return 1
`

// releaseScript 释放预占并返还库存。重复调用是 no-op。
var releaseScript = `
local reserved = redis.call('HGET', KEYS[2], ARGV[1])
if not reserved then
    return 0
end
redis.call('INCRBY', KEYS[1], tonumber(reserved))
redis.call('HDEL', KEYS[2], ARGV[1])
return 1
`

// confirmScript 预占转实扣：只删预占记录，不动可售库存。
// KEYS[1] 占位保持三个脚本同一套调用约定。
var confirmScript = `
return redis.call('HDEL', KEYS[2], ARGV[1])
`
