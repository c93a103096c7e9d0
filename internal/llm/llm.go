package llm

import "context"

// Request 描述一次文本生成调用。
type Request struct {
	// System 约束模型的角色与输出格式。
	System string
	// Prompt 为本次调用的用户输入。
	Prompt string
	// Temperature 为 0 时使用客户端默认值。
	Temperature float64
}

// Response 是模型返回的原始文本。
type Response struct {
	Text string
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
