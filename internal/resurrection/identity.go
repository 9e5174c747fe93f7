package resurrection

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// AgentIDPrefix agent_id 前缀
const AgentIDPrefix = "agent:"

// NewAgentID 生成 "agent:<16 位十六进制>"：对创建时间与实例随机量取 SHA-256
func NewAgentID(now time.Time) string {
	seed := now.UTC().Format(time.RFC3339Nano) + ":" + uuid.NewString()
	sum := sha256.Sum256([]byte(seed))
	return AgentIDPrefix + hex.EncodeToString(sum[:])[:16]
}
