package pythonbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	xerrors "ConsensusMCP-Chain/internal/errors"
	"ConsensusMCP-Chain/internal/llm"
)

// stderr 只保留末尾部分写入错误信息。
const maxStderr = 512

type bridgeRequest struct {
	System      string  `json:"system"`
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature"`
}

type bridgeResponse struct {
	Text  string `json:"text"`
	Error string `json:"error"`
}

// Client 把每次生成交给本地脚本完成，适合离线演示或自建模型。
// 脚本从 stdin 读取 {"system","prompt","temperature"}，向 stdout 输出
// {"text"} 或 {"error"}；非 JSON 输出按纯文本处理。
type Client struct {
	pythonExec string
	scriptPath string
	workingDir string
}

// NewClient 创建 Python Bridge 客户端。
func NewClient(pythonExec, scriptPath, workingDir string) (*Client, error) {
	if strings.TrimSpace(scriptPath) == "" {
		return nil, fmt.Errorf("未指定 Python 脚本路径")
	}
	if pythonExec == "" {
		pythonExec = "python3"
	}
	return &Client{pythonExec: pythonExec, scriptPath: scriptPath, workingDir: workingDir}, nil
}

// Complete 启动一次脚本进程。ctx 取消时进程被终止。
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	input, err := json.Marshal(bridgeRequest{System: req.System, Prompt: req.Prompt, Temperature: req.Temperature})
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	cmd := exec.CommandContext(ctx, c.pythonExec, c.scriptPath)
	cmd.Dir = c.workingDir
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "Python 脚本执行超时")
		}
		return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "执行 Python 脚本失败",
			xerrors.WithMetadata("stderr", tail(stderr.String(), maxStderr)))
	}

	var resp bridgeResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		resp = bridgeResponse{Text: stdout.String()}
	}
	if msg := strings.TrimSpace(resp.Error); msg != "" {
		return nil, xerrors.New(xerrors.CodeUpstreamFailure, "Python 脚本返回错误: "+msg)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return nil, xerrors.New(xerrors.CodeUpstreamFailure, "Python 脚本输出为空")
	}
	return &llm.Response{Text: text}, nil
}

// ResolveScriptPath 把相对脚本路径解析到工作目录下。
func ResolveScriptPath(baseDir, script string) string {
	if script == "" || filepath.IsAbs(script) || baseDir == "" {
		return script
	}
	return filepath.Join(baseDir, script)
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
