// internal/pkg/httpclient/resolver.go
package httpclient

import (
	"context"
	"fmt"
)

// Resolver 把逻辑服务名解析成可直连的 host:port。
// 生产环境由 Nacos 实现，本地与测试用 StaticResolver。
type Resolver interface {
	Resolve(serviceName string) (addr string, err error)
}

// StaticResolver 是基于固定映射表的 Resolver。
type StaticResolver map[string]string

func (r StaticResolver) Resolve(serviceName string) (string, error) {
	addr, ok := r[serviceName]
	if !ok {
		return "", fmt.Errorf("no address configured for service '%s'", serviceName)
	}
	return addr, nil
}

// PostServiceJSON 先做服务发现，再向目标服务的 path 发送 JSON 请求。
func (c *Client) PostServiceJSON(ctx context.Context, resolver Resolver, serviceName, path string, body, out interface{}) error {
	addr, err := resolver.Resolve(serviceName)
	if err != nil {
		return err
	}
	return c.PostJSON(ctx, fmt.Sprintf("http://%s%s", addr, path), body, out)
}
