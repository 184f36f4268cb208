package server

// ConnInfo 是暴露给 Handler 的只读连接信息。
// 只在事件循环 goroutine 中有效，连接关闭后不得再持有。
type ConnInfo struct {
	ID     uint64
	FD     int
	Remote string
}

// Handler 为用户回调接口，全部在事件循环 goroutine 中调用，要求无阻塞返回。
// OnMessage 的 req 与接收缓冲共享内存，只在本次回调内有效；
// 返回 error 会关闭该连接（不影响其它连接）。
type Handler interface {
	OnOpen(c *ConnInfo)
	OnMessage(c *ConnInfo, req []byte) (resp []byte, err error)
	OnClose(c *ConnInfo, err error)
}

// EchoHandler 原样回显每个请求。
type EchoHandler struct{}

func (EchoHandler) OnOpen(*ConnInfo) {}

func (EchoHandler) OnMessage(_ *ConnInfo, req []byte) ([]byte, error) { return req, nil }

func (EchoHandler) OnClose(*ConnInfo, error) {}
