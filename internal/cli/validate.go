package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"crop-price-alerts/internal/app"
	"crop-price-alerts/internal/validator"
)

var (
	validateCrop       string
	validatePrice      float64
	validateQuality    string
	validateLocation   string
	validateUnit       string
	validateReputation float64
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate one price submission against market history",
	RunE: func(cmd *cobra.Command, args []string) error {
		if validateCrop == "" || validateLocation == "" {
			return errors.New("--crop and --location must be provided")
		}
		if validatePrice <= 0 {
			return errors.New("--price must be greater than zero")
		}

		opts := app.ValidateOptions{
			CropType:   validateCrop,
			Price:      validatePrice,
			Quality:    validateQuality,
			Location:   validateLocation,
			Unit:       validateUnit,
			Reputation: validateReputation,
		}

		return getApp().ValidateSubmission(cmd.Context(), opts)
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateCrop, "crop", "", "Crop type of the submission")
	validateCmd.Flags().Float64Var(&validatePrice, "price", 0, "Submitted price per unit")
	validateCmd.Flags().StringVar(&validateQuality, "quality", "STANDARD", "Quality grade (PREMIUM|STANDARD|ECONOMY)")
	validateCmd.Flags().StringVar(&validateLocation, "location", "", "Market location of the submission")
	validateCmd.Flags().StringVar(&validateUnit, "unit", "kg", "Unit of measure")
	validateCmd.Flags().Float64Var(&validateReputation, "reputation", validator.DefaultReputation, "Submitter reputation in [0,1]")
}
