//go:generate go run go.uber.org/mock/mockgen -source=verifier.go -destination=mocks/mock_verifier.go -package=mocks

package gateway

import "context"

// Verifier validates an identity token and returns the username it names.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}
