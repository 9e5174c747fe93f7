package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gowebpki/jcs"

	"agent-resurrection/pkg/errors"
)

const (
	// DefaultHashLength state_hash 默认截断长度（十六进制字符）
	DefaultHashLength = 16
	// FullHashLength 完整 SHA-256 十六进制长度
	FullHashLength = sha256.Size * 2
)

// hashPayload 参与哈希的字段；timestamp 与 context 不参与
type hashPayload struct {
	AgentID  string `json:"agent_id"`
	Sequence uint64 `json:"sequence"`
	Identity Blob   `json:"identity"`
	Memory   Blob   `json:"memory"`
	Tasks    Blob   `json:"tasks"`
}

// CanonicalBytes 返回 {agent_id, sequence, identity, memory, tasks} 的 RFC 8785 规范化 JSON
func (r *Record) CanonicalBytes() ([]byte, error) {
	raw, err := json.Marshal(hashPayload{
		AgentID:  r.AgentID,
		Sequence: r.Sequence,
		Identity: orEmpty(r.Identity),
		Memory:   orEmpty(r.Memory),
		Tasks:    orEmpty(r.Tasks),
	})
	if err != nil {
		return nil, fmt.Errorf("checkpoint: marshal hash payload: %w", err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: canonicalize: %w", err)
	}
	return canon, nil
}

// FullDigest 规范化内容的完整 SHA-256 十六进制摘要
func (r *Record) FullDigest() (string, error) {
	canon, err := r.CanonicalBytes()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// ComputeHash 计算 state_hash，截断为 length 个十六进制字符（<=0 时为 DefaultHashLength）
func (r *Record) ComputeHash(length int) (string, error) {
	if length <= 0 {
		length = DefaultHashLength
	}
	if length > FullHashLength {
		length = FullHashLength
	}
	full, err := r.FullDigest()
	if err != nil {
		return "", err
	}
	return full[:length], nil
}

// Verify 重新计算摘要并与 StateHash 比较；不一致返回 ErrIntegrity。
// 允许 DefaultHashLength 到 FullHashLength 之间任意长度的前缀，兼容截断与完整两种模式。
func (r *Record) Verify() error {
	n := len(r.StateHash)
	if n < DefaultHashLength || n > FullHashLength {
		return errors.Wrapf(errors.ErrIntegrity, "%s: state_hash has invalid length %d", r.Key(), n)
	}
	full, err := r.FullDigest()
	if err != nil {
		return errors.Wrapf(errors.ErrIntegrity, "%s: %v", r.Key(), err)
	}
	if !strings.EqualFold(full[:n], r.StateHash) {
		return errors.Wrapf(errors.ErrIntegrity, "%s: stored %s, computed %s", r.Key(), r.StateHash, full[:n])
	}
	return nil
}
