package mail

import (
	"fmt"
	"log"

	"github.com/coursefox/paycore/app/models"
	"github.com/coursefox/paycore/internal/pkg/database"
)

// SendPaymentReceipt notifies a user about a completed payment. It is wired
// as the engine's completion hook; failures are logged only, the payment
// itself is already final.
func SendPaymentReceipt(txn *models.Transaction) {
	var user models.User
	if err := database.GetDB().First(&user, txn.UserID).Error; err != nil {
		log.Printf("receipt mail: user %d lookup failed: %v", txn.UserID, err)
		return
	}

	subject := "Your payment was successful"
	body := fmt.Sprintf(
		"<p>Hi %s,</p><p>we received your payment of %s %s (reference %s). "+
			"Your access is active now.</p>",
		user.Name, txn.Amount.StringFixed(2), txn.Currency, txn.PublicID,
	)
	if err := SendMail(user.Email, subject, body); err != nil {
		log.Printf("receipt mail to %s failed: %v", user.Email, err)
	}
}
