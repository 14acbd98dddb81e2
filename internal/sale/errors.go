package sale

import (
	"errors"
	"net/http"

	"github.com/idopools/sale-engine/internal/allocation"
	"github.com/idopools/sale-engine/internal/auth"
	"github.com/idopools/sale-engine/internal/store"
	"github.com/idopools/sale-engine/internal/token"
)

// Domain errors. Window errors cover operations attempted outside their
// valid time range; state errors cover wrong lifecycle phase; the rest
// follow the same split the handlers map to HTTP statuses below.
var (
	// --- Window errors ---

	// ErrNotStarted is returned when participation is attempted before
	// the round opens.
	ErrNotStarted = errors.New("sale: round has not started")

	// ErrNotClaimable is returned when claiming before finalization or
	// before the claimable time.
	ErrNotClaimable = errors.New("sale: round is not claimable")

	// ErrIDONotEnded is returned when finalizing before the end time.
	ErrIDONotEnded = errors.New("sale: round has not ended")

	// ErrWindowClosed is returned when a pre-start-only mutation is
	// attempted after the round opened.
	ErrWindowClosed = errors.New("sale: round already open, window closed")

	// --- State errors ---

	// ErrAlreadyFinalized is returned for mutations against a finalized
	// round. Finalization is one-way.
	ErrAlreadyFinalized = errors.New("sale: round already finalized")

	// --- Validation errors ---

	// ErrInvalidWindow is returned at creation when the time windows are
	// not strictly ordered.
	ErrInvalidWindow = errors.New("sale: end must follow start and claimable must follow end")

	// ErrInvalidDelay is returned when a delay moves a time backward or
	// past the initial time plus the maximum delay.
	ErrInvalidDelay = errors.New("sale: invalid delay")

	// ErrInvalidToken is returned when the payment token is neither of
	// the round's accepted tokens.
	ErrInvalidToken = errors.New("sale: token not accepted by round")

	// ErrInvalidAmount is returned for non-positive contribution amounts.
	ErrInvalidAmount = errors.New("sale: amount must be positive")

	// ErrWhitelistDisabled is returned when modifying or disabling a
	// whitelist that is not enabled.
	ErrWhitelistDisabled = errors.New("sale: whitelist is not enabled")

	// ErrEmptyAddressList is returned for whitelist batches with no
	// addresses.
	ErrEmptyAddressList = errors.New("sale: address list is empty")

	// --- Authorization errors ---

	// ErrNotWhitelisted is returned when a whitelisted round rejects an
	// unlisted participant.
	ErrNotWhitelisted = errors.New("sale: participant not whitelisted")

	// --- Ledger errors ---

	// ErrSecondaryCapExceeded is returned when a secondary-token
	// contribution would push total funding past the basis-point cap.
	ErrSecondaryCapExceeded = errors.New("sale: secondary token cap exceeded")

	// ErrNoPosition is returned when claiming with no (or an already
	// claimed) position.
	ErrNoPosition = errors.New("sale: no position to claim")

	// ErrGoalNotReached blocks finalization while raised value is below
	// the minimum funding goal.
	ErrGoalNotReached = errors.New("sale: funding goal not reached")

	// ErrGoalReached blocks spare-token withdrawal once the goal value
	// was met; spare recovery only applies to underfunded rounds.
	ErrGoalReached = errors.New("sale: funding goal reached, no spare tokens")

	// --- Lookup errors ---

	// ErrRoundNotInMetaIDO is returned when removing a round absent from
	// the MetaIDO membership list.
	ErrRoundNotInMetaIDO = errors.New("sale: round not in meta ido")
)

// httpStatus maps domain, store, auth, and collaborator errors to HTTP
// status codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, auth.ErrUnauthorized),
		errors.Is(err, auth.ErrNotProposed),
		errors.Is(err, ErrNotWhitelisted):
		return http.StatusForbidden
	case errors.Is(err, store.ErrRoundNotFound),
		errors.Is(err, store.ErrMetaIDONotFound),
		errors.Is(err, store.ErrPositionNotFound),
		errors.Is(err, ErrRoundNotInMetaIDO):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidWindow),
		errors.Is(err, ErrInvalidDelay),
		errors.Is(err, ErrInvalidToken),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrEmptyAddressList),
		errors.Is(err, allocation.ErrInvalidBasisPoints),
		errors.Is(err, allocation.ErrInvalidPrice),
		errors.Is(err, allocation.ErrInvalidDecimals),
		errors.Is(err, token.ErrUnknownToken),
		errors.Is(err, token.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotStarted),
		errors.Is(err, ErrNotClaimable),
		errors.Is(err, ErrIDONotEnded),
		errors.Is(err, ErrWindowClosed),
		errors.Is(err, ErrAlreadyFinalized),
		errors.Is(err, ErrWhitelistDisabled),
		errors.Is(err, ErrSecondaryCapExceeded),
		errors.Is(err, ErrNoPosition),
		errors.Is(err, ErrGoalNotReached),
		errors.Is(err, ErrGoalReached),
		errors.Is(err, token.ErrInsufficientBalance):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
