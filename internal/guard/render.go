package guard

// Renderer 把题目转换为响应体与 Content-Type。
type Renderer interface {
	Render(ch Challenge) ([]byte, string, error)
}

// TextRenderer 直接输出表达式，例如 "3+4*2"。
type TextRenderer struct{}

func (TextRenderer) Render(ch Challenge) ([]byte, string, error) {
	return []byte(ch.Expr), "text/plain; charset=utf-8", nil
}
