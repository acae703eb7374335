package cost_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/popclaim/internal/domain/cost"
	"github.com/okian/popclaim/internal/domain/model"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestEstimator_Estimate(t *testing.T) {
	Convey("Given an estimator with the default constants", t, func() {
		est := cost.NewEstimator()

		Convey("When estimating 100 tokens", func() {
			res, err := est.EstimateDefault(100)

			Convey("Then the costs follow the formulas exactly", func() {
				So(err, ShouldBeNil)
				So(res.RegularCost.Equal(d("1")), ShouldBeTrue)
				So(res.CompressedCost.Equal(d("0.00282")), ShouldBeTrue)
				So(res.Savings.Equal(d("0.99718")), ShouldBeTrue)
				So(res.SavingsPercentage.Equal(d("99.72")), ShouldBeTrue)
			})
		})

		Convey("When estimating many token counts", func() {
			Convey("Then savings is regular minus compressed and the tree term appears once", func() {
				for _, n := range []int{1, 2, 7, 64, 1000, 16384, 1_000_000} {
					res, err := est.Estimate(n, d("0.01"), d("0.000005"))
					So(err, ShouldBeNil)
					So(res.Savings.Equal(res.RegularCost.Sub(res.CompressedCost)), ShouldBeTrue)
					perToken := decimal.NewFromInt(int64(n)).Mul(d("0.000005"))
					So(res.CompressedCost.Sub(perToken).Equal(est.TreeCreationCost()), ShouldBeTrue)
				}
			})
		})

		Convey("When a single token is minted", func() {
			res, err := est.Estimate(1, d("0.01"), d("0.000005"))

			Convey("Then compression is still cheaper and the result is finite", func() {
				So(err, ShouldBeNil)
				So(res.Savings.IsPositive(), ShouldBeTrue)
			})
		})

		Convey("When the unit costs make compression more expensive", func() {
			res, err := est.Estimate(1, d("0.000001"), d("0.000005"))

			Convey("Then savings are negative rather than clamped", func() {
				So(err, ShouldBeNil)
				So(res.Savings.IsNegative(), ShouldBeTrue)
				So(res.SavingsPercentage.IsNegative(), ShouldBeTrue)
			})
		})
	})
}

func TestEstimator_InvalidInput(t *testing.T) {
	Convey("Given an estimator", t, func() {
		est := cost.NewEstimator()

		Convey("Then a zero token count fails with InvalidInput", func() {
			_, err := est.Estimate(0, d("0.01"), d("0.000005"))
			So(errors.Is(err, model.ErrInvalidInput), ShouldBeTrue)
		})

		Convey("Then a negative token count fails with InvalidInput", func() {
			_, err := est.EstimateDefault(-3)
			So(errors.Is(err, model.ErrInvalidInput), ShouldBeTrue)
		})

		Convey("Then a zero regular unit cost fails with InvalidInput", func() {
			_, err := est.Estimate(10, decimal.Zero, d("0.000005"))
			So(errors.Is(err, model.ErrInvalidInput), ShouldBeTrue)
		})
	})
}

func TestEstimator_Options(t *testing.T) {
	Convey("Given configured constants", t, func() {
		est := cost.NewEstimator(
			cost.WithUnitCosts(d("0.02"), d("0.00001")),
			cost.WithTreeCreationCost(d("1.5")),
		)

		Convey("Then EstimateDefault uses them", func() {
			res, err := est.EstimateDefault(10)
			So(err, ShouldBeNil)
			So(res.RegularCost.Equal(d("0.2")), ShouldBeTrue)
			So(res.CompressedCost.Equal(d("1.5001")), ShouldBeTrue)
			So(res.TreeCreationCost.Equal(d("1.5")), ShouldBeTrue)
		})

		Convey("Then invalid option values are ignored", func() {
			e := cost.NewEstimator(cost.WithUnitCosts(decimal.Zero, d("-1")), cost.WithTreeCreationCost(d("-1")))
			So(e.TreeCreationCost().Equal(cost.DefaultTreeCreationCost), ShouldBeTrue)
		})
	})
}
