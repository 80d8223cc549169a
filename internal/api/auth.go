package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dchest/uniuri"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"fundlink/internal/api/jwt"
	"fundlink/internal/fundapi"
)

var ctx = context.Background()

type signupParams struct {
	Email         string `json:"email" binding:"required" validate:"required,max=250"`
	Name          string `json:"name" validate:"max=150"`
	WalletAddress string `json:"wallet_address" binding:"required" validate:"required,max=64"` // Stellar G... account
	Locale        string `json:"locale" validate:"max=5"`
	CountryCode   string `json:"country_code" validate:"max=2"`
}

type signinParams struct {
	Email         string `json:"email" binding:"required"`
	WalletAddress string `json:"wallet_address" binding:"required"`
}

// Signup registers a donor keyed by email + Stellar account and answers
// with a signed token.
func Signup(c *gin.Context) {
	app := c.MustGet("app").(*fundapi.App)
	var params signupParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	var double fundapi.Donor
	res := app.Db.Where(
		"email = ? AND wallet_address = ?",
		params.Email,
		params.WalletAddress,
	).First(&double)
	if res.RowsAffected == 1 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": errors.New("donor already registered").Error()})
		return
	}
	donor := fundapi.Donor{
		Id:            uuid.NewString(),
		Email:         params.Email,
		Name:          params.Name,
		WalletAddress: params.WalletAddress,
		Group:         fundapi.GroupDonor,
		RefSlug:       uniuri.NewLen(8),
		Locale:        params.Locale,
		CountryCode:   params.CountryCode,
	}
	if res := app.Db.Create(&donor); res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": res.Error.Error()})
		return
	}
	token, err := jwt.GenerateJWT(donor.WalletAddress, donor.Email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	// Keep a short-lived session marker so signin rate decisions can use it
	app.Rdb.Set(ctx, "session_"+donor.Id, time.Now().UTC().Format(time.RFC3339), 24*time.Hour)
	c.JSON(http.StatusCreated, gin.H{"success": true, "token": token, "donor": donor})
}

func Signin(c *gin.Context) {
	app := c.MustGet("app").(*fundapi.App)
	var params signinParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	var donor fundapi.Donor
	res := app.Db.Where(
		"email = ? AND wallet_address = ?",
		params.Email,
		params.WalletAddress,
	).First(&donor)
	if res.RowsAffected != 1 {
		c.JSON(http.StatusForbidden, gin.H{"success": false, "error": errors.New("unknown donor").Error()})
		return
	}
	token, err := jwt.GenerateJWT(donor.WalletAddress, donor.Email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	app.Rdb.Set(ctx, "session_"+donor.Id, time.Now().UTC().Format(time.RFC3339), 24*time.Hour)
	c.JSON(http.StatusOK, gin.H{"success": true, "token": token, "donor": donor})
}
