package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/smartystreets/goconvey/convey"
)

func TestSQLStateClassification(t *testing.T) {
	convey.Convey("Given errors raised by the server", t, func() {
		wrapped := func(code string) error {
			return fmt.Errorf("postgres.consume: %w", &pgconn.PgError{Code: code})
		}

		convey.Convey("Then lost lock races are rerun", func() {
			convey.So(retryable(wrapped(codeSerializationFailure)), convey.ShouldBeTrue)
			convey.So(retryable(wrapped(codeDeadlockDetected)), convey.ShouldBeTrue)
		})

		convey.Convey("Then constraint violations are not rerun", func() {
			convey.So(retryable(wrapped(codeUniqueViolation)), convey.ShouldBeFalse)
			convey.So(isUniqueViolation(wrapped(codeUniqueViolation)), convey.ShouldBeTrue)
			convey.So(isCheckViolation(wrapped(codeCheckViolation)), convey.ShouldBeTrue)
			convey.So(isCheckViolation(wrapped(codeUniqueViolation)), convey.ShouldBeFalse)
		})

		convey.Convey("Then errors from outside the server carry no state", func() {
			convey.So(sqlState(errors.New("conn reset")), convey.ShouldBeEmpty)
			convey.So(retryable(context.DeadlineExceeded), convey.ShouldBeFalse)
			convey.So(retryable(nil), convey.ShouldBeFalse)
		})
	})

	convey.Convey("Given a context without a transaction", t, func() {
		s := &Store{}

		convey.Convey("Then queries go to the pool", func() {
			convey.So(txFrom(context.Background()), convey.ShouldBeNil)
			convey.So(s.conn(context.Background()), convey.ShouldEqual, s.pool)
		})
	})
}
