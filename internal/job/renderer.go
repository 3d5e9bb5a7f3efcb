package job

import (
	"context"
	"fmt"

	"github.com/topichub/delivery-engine/internal/domain"
)

// Renderer expands a decoded message into its per-protocol payloads before
// fan-out. The network delivery layer then picks the rendering matching each
// subscriber's protocol.
type Renderer interface {
	Render(ctx context.Context, msg *domain.Message, protocols []domain.Protocol) error
}

// ProtocolRenderer is the default renderer: email targets get a
// subject-prefixed rendering, everything else receives the raw body.
type ProtocolRenderer struct{}

func NewProtocolRenderer() *ProtocolRenderer { return &ProtocolRenderer{} }

func (ProtocolRenderer) Render(_ context.Context, msg *domain.Message, protocols []domain.Protocol) error {
	if msg.ProtocolPayloads == nil {
		msg.ProtocolPayloads = make(map[domain.Protocol]string, len(protocols))
	}
	for _, p := range protocols {
		if !p.IsValid() {
			return fmt.Errorf("%w: %q", domain.ErrInvalidProtocol, p)
		}
		if _, ok := msg.ProtocolPayloads[p]; ok {
			// Publisher-supplied renderings win.
			continue
		}
		switch p {
		case domain.ProtocolEmail:
			if msg.Subject != "" {
				msg.ProtocolPayloads[p] = msg.Subject + "\n\n" + msg.Body
				continue
			}
			msg.ProtocolPayloads[p] = msg.Body
		default:
			msg.ProtocolPayloads[p] = msg.Body
		}
	}
	return nil
}

var _ Renderer = ProtocolRenderer{}
