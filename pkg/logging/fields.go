package logging

import "log/slog"

// Domain identifiers

func User(id string) slog.Attr {
	return slog.String("user_id", id)
}

func Peer(id string) slog.Attr {
	return slog.String("peer_id", id)
}

func Conversation(id string) slog.Attr {
	return slog.String("conv_id", id)
}

func Conn(id string) slog.Attr {
	return slog.String("conn_id", id)
}

func Message(id string) slog.Attr {
	return slog.String("message_id", id)
}

func TempID(id string) slog.Attr {
	return slog.String("temp_id", id)
}

func Frame(t string) slog.Attr {
	return slog.String("frame_type", t)
}

// Request / tracing

func TraceID(id string) slog.Attr {
	return slog.String("trace_id", id)
}

// Error handling

func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("err", "")
	}
	return slog.String("err", err.Error())
}

func RequestID(id string) slog.Attr {
	return slog.String("request_id", id)
}
