package scribe

import (
	"testing"

	"github.com/m-mizutani/gt"
)

func TestParsePlan(t *testing.T) {
	t.Run("nulls are empty lists", func(t *testing.T) {
		plan, err := parsePlan(`{"tables":["users"],"columns":null,"joins":null,"filters":[],"group_by":[],"order_by":[],"limit":null}`)
		gt.NoError(t, err)
		gt.A(t, plan.Tables).Length(1)
		gt.Equal(t, plan.Limit, 0)
	})

	t.Run("surrounding text", func(t *testing.T) {
		plan, err := parsePlan("Here it is:\n{\"tables\":[],\"columns\":[],\"joins\":[],\"filters\":[],\"group_by\":[\"users.country\"],\"order_by\":[],\"limit\":10}\nDone.")
		gt.NoError(t, err)
		gt.Equal(t, plan.GroupBy[0], "users.country")
		gt.Equal(t, plan.Limit, 10)
	})

	t.Run("missing required field", func(t *testing.T) {
		_, err := parsePlan(`{"tables":["users"]}`)
		gt.Error(t, err)
	})

	t.Run("fractional limit", func(t *testing.T) {
		_, err := parsePlan(`{"tables":[],"columns":[],"joins":[],"filters":[],"group_by":[],"order_by":[],"limit":1.5}`)
		gt.Error(t, err)
	})

	t.Run("no object", func(t *testing.T) {
		_, err := parsePlan("nothing")
		gt.Error(t, err)
	})
}
