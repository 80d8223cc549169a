package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"fundlink/internal/fundapi"
)

// donorFromContext resolves the authenticated donor set by the auth
// middleware. Writes the error response itself when the donor is gone.
func donorFromContext(c *gin.Context, app *fundapi.App) (fundapi.Donor, bool) {
	email := c.MustGet("email")
	address := c.MustGet("address")

	var donor fundapi.Donor
	res := app.Db.Where(
		"email = ? AND wallet_address = ?",
		email,
		address,
	).First(&donor)
	if res.RowsAffected == 1 {
		return donor, true
	}
	c.JSON(http.StatusForbidden, gin.H{"success": false, "error": "invalid jwt"})
	return fundapi.Donor{}, false
}

func GetDonor(c *gin.Context) {
	app := c.MustGet("app").(*fundapi.App)
	donor, ok := donorFromContext(c, app)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, donor)
}

// GetDonorTransactions lists the caller's own transactions, newest first.
func GetDonorTransactions(c *gin.Context) {
	app := c.MustGet("app").(*fundapi.App)
	donor, ok := donorFromContext(c, app)
	if !ok {
		return
	}
	page, limit := pageParams(c)
	if page == 0 {
		return
	}
	recs, total, err := app.Svc.DonorTransactions(c.Request.Context(), donor.Id, page, limit)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, paginateTx(c.Request.URL.Path, recs, total, page, limit))
}

// pageParams parses page/limit, answering 400 and returning page 0 on bad
// input.
func pageParams(c *gin.Context) (int, int) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid page"})
		return 0, 0
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(fundapi.DefaultListLimit)))
	if err != nil || limit < 1 || limit > fundapi.MaxListLimit {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid limit"})
		return 0, 0
	}
	return page, limit
}
