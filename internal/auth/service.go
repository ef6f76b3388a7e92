package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"defiseek/pkg/logger"
)

const (
	tokenTypeAccess   = "access"
	tokenTypeRefresh  = "refresh"
	grantTypePassword = "password"
	jwtHeaderJSON     = `{"alg":"HS256","typ":"JWT"}`
	passwordSaltBytes = 16
)

var encodedJWTHeader = base64.RawURLEncoding.EncodeToString([]byte(jwtHeaderJSON))

// Service 负责聊天接口的身份验证与令牌签发。
// disabled 模式下所有方法返回 ErrDisabled，由中间件直接放行。
type Service struct {
	mode  Mode
	store Store
	jwt   *jwtManager
	audit *slog.Logger
}

// NewService 构造身份认证服务实例，并按配置写入种子账号。
func NewService(ctx context.Context, cfg Config, store Store) (*Service, error) {
	mode := Mode(strings.ToLower(string(cfg.Mode)))
	svc := &Service{
		mode:  mode,
		store: store,
		audit: logger.Audit(),
	}

	switch mode {
	case ModeDisabled:
		return svc, nil
	case ModeJWT:
		if store == nil {
			return nil, errors.New("jwt mode requires a user store")
		}
		if strings.TrimSpace(cfg.JWT.Secret) == "" {
			return nil, errors.New("jwt secret must be configured")
		}
		svc.jwt = newJWTManager(cfg.JWT)
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	if err := applySeeds(ctx, store, cfg.Seeds); err != nil {
		return nil, err
	}
	return svc, nil
}

func applySeeds(ctx context.Context, store Store, seeds []Seed) error {
	if len(seeds) == 0 || store == nil {
		return nil
	}
	writer, ok := store.(SeedWriter)
	if !ok {
		return nil
	}
	for _, seed := range seeds {
		if err := writer.ApplySeed(ctx, seed); err != nil {
			return fmt.Errorf("apply seed %s: %w", seed.Username, err)
		}
	}
	return nil
}

// Mode 返回当前身份认证服务的工作模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// Authenticate 校验用户名密码并签发令牌对。
// 凭证错误与用户不存在统一返回 ErrInvalidCredentials，不暴露区别。
func (s *Service) Authenticate(ctx context.Context, req TokenRequest) (*TokenPair, error) {
	if s == nil || s.mode == ModeDisabled {
		return nil, ErrDisabled
	}

	grant := strings.TrimSpace(strings.ToLower(req.GrantType))
	if grant == "" {
		grant = grantTypePassword
	}
	if grant != grantTypePassword {
		return nil, ErrUnsupportedGrant
	}
	if s.store == nil {
		return nil, errors.New("user store not configured")
	}

	user, err := s.store.FindUserByUsername(ctx, strings.TrimSpace(req.Username))
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if user.Disabled {
		return nil, ErrSubjectRevoked
	}
	if !verifyPassword(user.PasswordHash, req.Password) {
		return nil, ErrInvalidCredentials
	}

	subject, err := s.resolveSubject(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if s.jwt == nil {
		return nil, errors.New("jwt manager not initialised")
	}
	pair, err := s.jwt.Generate(subject)
	if err != nil {
		return nil, err
	}
	pair.Subject = subject.Clone()
	pair.TokenType = "Bearer"

	s.audit.Info("令牌签发", "user_id", subject.ID, "username", subject.Username)
	return pair, nil
}

// AuthenticateRequest 验证 Authorization 头并返回对应的主体信息。
// 只接受 access 类型令牌；refresh 令牌不能直接访问接口。
func (s *Service) AuthenticateRequest(ctx context.Context, authorization string) (*Subject, error) {
	if s == nil || s.mode == ModeDisabled {
		return nil, ErrDisabled
	}
	token, err := bearerToken(authorization)
	if err != nil {
		return nil, err
	}
	if s.jwt == nil {
		return nil, errors.New("jwt manager not initialised")
	}
	claims, err := s.jwt.Verify(token)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != tokenTypeAccess {
		return nil, ErrInvalidToken
	}
	if s.store == nil {
		return nil, errors.New("user store not configured")
	}
	return s.resolveSubject(ctx, claims.Subject)
}

// resolveSubject 按 ID 加载主体并检查其是否被停用。
func (s *Service) resolveSubject(ctx context.Context, userID string) (*Subject, error) {
	subject, err := s.store.LoadSubject(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load subject: %w", err)
	}
	if subject.Disabled {
		return nil, ErrSubjectRevoked
	}
	subject.normalise()
	return subject, nil
}

// bearerToken 从 Authorization 头中提取 Bearer 令牌。
func bearerToken(authorization string) (string, error) {
	parts := strings.SplitN(strings.TrimSpace(authorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", ErrMissingToken
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

// jwtManager 负责 JWT 令牌的签名和验证。now 可替换以便测试过期逻辑。
type jwtManager struct {
	secret     []byte
	issuer     string
	audience   []string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func newJWTManager(opts JWTOptions) *jwtManager {
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = 3600
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = 86400
	}
	return &jwtManager{
		secret:     []byte(opts.Secret),
		issuer:     opts.Issuer,
		audience:   append([]string(nil), opts.Audience...),
		accessTTL:  time.Duration(opts.AccessTTL) * time.Second,
		refreshTTL: time.Duration(opts.RefreshTTL) * time.Second,
		now:        time.Now,
	}
}

// jwtClaims 定义 JWT 令牌的声明结构。
type jwtClaims struct {
	Username    string   `json:"username,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	TokenType   string   `json:"type"`
	Subject     string   `json:"sub"`
	Issuer      string   `json:"iss,omitempty"`
	Audience    []string `json:"aud,omitempty"`
	IssuedAt    int64    `json:"iat,omitempty"`
	ExpiresAt   int64    `json:"exp,omitempty"`
}

func (m *jwtManager) clock() time.Time {
	if m.now != nil {
		return m.now()
	}
	return time.Now()
}

// newClaims 构造一种令牌类型的声明。refresh 令牌不携带权限列表。
func (m *jwtManager) newClaims(subject *Subject, tokenType string, ttl time.Duration) jwtClaims {
	issued := m.clock().Unix()
	claims := jwtClaims{
		Username:  subject.Username,
		Roles:     append([]string(nil), subject.Roles...),
		TokenType: tokenType,
		Subject:   subject.ID,
		Issuer:    m.issuer,
		Audience:  append([]string(nil), m.audience...),
		IssuedAt:  issued,
		ExpiresAt: issued + int64(ttl.Seconds()),
	}
	if tokenType == tokenTypeAccess {
		claims.Permissions = append([]string(nil), subject.Permissions...)
	}
	return claims
}

// Generate 生成访问令牌和刷新令牌对。
func (m *jwtManager) Generate(subject *Subject) (*TokenPair, error) {
	if subject == nil {
		return nil, errors.New("subject required")
	}
	subject.normalise()

	accessToken, err := m.sign(m.newClaims(subject, tokenTypeAccess, m.accessTTL))
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refreshToken, err := m.sign(m.newClaims(subject, tokenTypeRefresh, m.refreshTTL))
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}
	return &TokenPair{
		AccessToken:      accessToken,
		ExpiresIn:        int64(m.accessTTL.Seconds()),
		RefreshToken:     refreshToken,
		RefreshExpiresIn: int64(m.refreshTTL.Seconds()),
		TokenType:        "Bearer",
	}, nil
}

// sign 使用 HMAC-SHA256 签名 JWT 令牌。
func (m *jwtManager) sign(claims jwtClaims) (string, error) {
	payloadBytes, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("encode claims: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(payloadBytes)
	signature := m.signature(encodedJWTHeader, payload)
	return encodedJWTHeader + "." + payload + "." + base64.RawURLEncoding.EncodeToString(signature), nil
}

func (m *jwtManager) signature(header, payload string) []byte {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(header))
	mac.Write([]byte("."))
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}

// Verify 验证 JWT 令牌的签名、有效期、签发方与受众。
func (m *jwtManager) Verify(token string) (*jwtClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrInvalidToken
	}
	expected := m.signature(parts[0], parts[1])
	actual, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, ErrInvalidToken
	}
	if subtle.ConstantTimeCompare(expected, actual) != 1 {
		return nil, ErrInvalidToken
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrInvalidToken
	}
	var claims jwtClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrInvalidToken
	}

	if claims.ExpiresAt != 0 && m.clock().Unix() > claims.ExpiresAt {
		return nil, ErrInvalidToken
	}
	if m.issuer != "" && claims.Issuer != "" && !strings.EqualFold(m.issuer, claims.Issuer) {
		return nil, ErrInvalidToken
	}
	if !audienceAllowed(m.audience, claims.Audience) {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

// audienceAllowed 在双方都声明了受众时要求至少一个匹配。
func audienceAllowed(expected, provided []string) bool {
	if len(expected) == 0 || len(provided) == 0 {
		return true
	}
	for _, want := range expected {
		for _, got := range provided {
			if strings.EqualFold(strings.TrimSpace(want), strings.TrimSpace(got)) {
				return true
			}
		}
	}
	return false
}

// HashPassword 对给定的密码进行加盐哈希并返回编码后的结果。
func HashPassword(password string) (string, error) {
	if strings.TrimSpace(password) == "" {
		return "", errors.New("password cannot be empty")
	}
	salt := make([]byte, passwordSaltBytes)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	digest := saltedDigest(salt, password)
	return base64.RawStdEncoding.EncodeToString(salt) + ":" + base64.RawStdEncoding.EncodeToString(digest), nil
}

// verifyPassword 以常数时间比较校验密码。
func verifyPassword(hashed, password string) bool {
	parts := strings.SplitN(hashed, ":", 2)
	if len(parts) != 2 {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(expected, saltedDigest(salt, password)) == 1
}

func saltedDigest(salt []byte, password string) []byte {
	digest := sha256.Sum256(append(append([]byte(nil), salt...), []byte(password)...))
	return digest[:]
}
