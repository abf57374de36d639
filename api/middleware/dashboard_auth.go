/*
 * @module api/middleware/dashboard_auth
 * @description 性能查询接口鉴权中间件，校验 Bearer Token 与配置中的 bcrypt 哈希
 * @architecture 中间件模式 - HTTP请求拦截和验证
 * @stateFlow Token提取 -> 缓存检查 -> bcrypt校验 -> 下一个处理器
 * @rules 未配置哈希时不校验；白名单路径跳过鉴权；校验结果短时缓存
 * @dependencies golang.org/x/crypto/bcrypt, github.com/go-chi/render
 * @refs api/routes.go
 */

package middleware

import (
	"crypto/sha256"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/render"
	"golang.org/x/crypto/bcrypt"
)

// DashboardAuthMiddleware 查询接口鉴权
type DashboardAuthMiddleware struct {
	tokenHash []byte
	// 校验通过的Token摘要缓存，避免每次请求都做bcrypt
	cache      map[[sha256.Size]byte]time.Time
	cacheMutex sync.RWMutex
	cacheTTL   time.Duration
	// 白名单路径（不需要鉴权）
	whitelistPaths []string
	now            func() time.Time
}

// NewDashboardAuthMiddleware 创建鉴权中间件，tokenHash 为空时放行所有请求
func NewDashboardAuthMiddleware(tokenHash string) *DashboardAuthMiddleware {
	return &DashboardAuthMiddleware{
		tokenHash: []byte(tokenHash),
		cache:     make(map[[sha256.Size]byte]time.Time),
		cacheTTL:  5 * time.Minute,
		now:       time.Now,
	}
}

// AddWhitelistPath 添加白名单路径
func (m *DashboardAuthMiddleware) AddWhitelistPath(path string) {
	m.whitelistPaths = append(m.whitelistPaths, path)
}

// IsWhitelistPath 检查路径是否在白名单中，前缀匹配
func (m *DashboardAuthMiddleware) IsWhitelistPath(path string) bool {
	for _, whitelistPath := range m.whitelistPaths {
		if strings.HasPrefix(path, whitelistPath) {
			return true
		}
	}
	return false
}

// Middleware 认证中间件处理函数
func (m *DashboardAuthMiddleware) Middleware(next http.Handler) http.Handler {
	if len(m.tokenHash) == 0 {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.IsWhitelistPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			m.respondUnauthorized(w, r, "缺少Authorization头")
			return
		}
		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok {
			m.respondUnauthorized(w, r, "无效的Authorization格式，需要Bearer Token")
			return
		}
		if token == "" {
			m.respondUnauthorized(w, r, "Token为空")
			return
		}

		if !m.verify(token) {
			m.respondUnauthorized(w, r, "Token验证失败")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// verify 先查缓存，再做bcrypt比较
func (m *DashboardAuthMiddleware) verify(token string) bool {
	digest := sha256.Sum256([]byte(token))
	now := m.now()

	m.cacheMutex.RLock()
	expiresAt, hit := m.cache[digest]
	m.cacheMutex.RUnlock()
	if hit && now.Before(expiresAt) {
		return true
	}

	if bcrypt.CompareHashAndPassword(m.tokenHash, []byte(token)) != nil {
		return false
	}

	m.cacheMutex.Lock()
	m.cache[digest] = now.Add(m.cacheTTL)
	m.cacheMutex.Unlock()
	return true
}

// respondUnauthorized 返回未授权响应
func (m *DashboardAuthMiddleware) respondUnauthorized(w http.ResponseWriter, r *http.Request, message string) {
	render.Status(r, http.StatusUnauthorized)
	render.JSON(w, r, map[string]interface{}{
		"status": http.StatusUnauthorized,
		"msg":    message,
	})
}
