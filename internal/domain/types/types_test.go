package types_test

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/zydorg/kemunify/internal/domain/model"
	"github.com/zydorg/kemunify/internal/domain/types"
)

func TestBuildRecap(t *testing.T) {
	Convey("Given two waste types and two customers", t, func() {
		wastes := []model.WasteType{
			{ID: 1, Name: "Gelas bersih", Weights: model.Weights{"Tono": model.ParseWeight("0.10")}},
			{ID: 2, Name: "Botol bersih", Weights: model.Weights{"Tono": model.ParseWeight("0.20"), "Sri": model.ParseWeight("1,5")}},
		}
		customers := []model.Customer{{Name: "Tono"}, {Name: "Sri"}}

		recap := types.BuildRecap(wastes, customers)

		Convey("The header lists the customers after the fixed columns", func() {
			So(recap.Header, ShouldResemble, []string{"No", "Nama Sampah", "Tono", "Sri"})
		})

		Convey("Missing entries read 0.00 and rows are numbered from one", func() {
			So(recap.Rows, ShouldHaveLength, 2)
			So(recap.Rows[0].Cells(), ShouldResemble, []string{"1", "Gelas bersih", "0.10", "0.00"})
			So(recap.Rows[1].Cells(), ShouldResemble, []string{"2", "Botol bersih", "0.20", "1.50"})
			So(recap.Rows[1].Total, ShouldEqual, "1.70")
		})
	})

	Convey("An empty ledger yields only the header", t, func() {
		recap := types.BuildRecap(nil, nil)
		So(recap.Header, ShouldResemble, []string{"No", "Nama Sampah"})
		So(recap.Rows, ShouldBeEmpty)
	})
}
