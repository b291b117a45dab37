package automation

import (
	"fmt"

	"assocmail/internal/domain/locale"
	"assocmail/internal/domain/tax"
)

type prose struct {
	notApplicable string
	deductionInfo string // above-threshold rate, deduction total
	bonusInfo     string // recurring years, deduction above threshold
	receiptNotice string
}

var proseByLocale = map[locale.Locale]prose{
	locale.English: {
		notApplicable: "N/A",
		deductionInfo: "You can deduct 80%% of the first €250 donated and %d%% of the remainder, €%s in total.",
		bonusInfo:     "After %d consecutive years of support your rate above €250 rises to 45%%, a deduction of €%s on that part.",
		receiptNotice: "We will send you a separate tax receipt to attach to your income tax return.",
	},
	locale.Spanish: {
		notApplicable: "N/D",
		deductionInfo: "Puedes deducir el 80%% de los primeros 250 € donados y el %d%% del resto, en total %s €.",
		bonusInfo:     "Tras %d años consecutivos de apoyo, tu deducción por encima de 250 € sube al 45%%, es decir %s € en esa parte.",
		receiptNotice: "Te enviaremos un certificado fiscal aparte para tu declaración de la renta.",
	},
	locale.Catalan: {
		notApplicable: "N/D",
		deductionInfo: "Pots deduir el 80%% dels primers 250 € donats i el %d%% de la resta, en total %s €.",
		bonusInfo:     "Després de %d anys consecutius de suport, la deducció per sobre de 250 € puja al 45%%, és a dir %s € en aquesta part.",
		receiptNotice: "T'enviarem un certificat fiscal a part per a la declaració de la renda.",
	},
}

func proseFor(l locale.Locale) prose {
	if p, ok := proseByLocale[l]; ok {
		return p
	}
	return proseByLocale[locale.English]
}

func (p prose) deduction(res tax.Result) string {
	return fmt.Sprintf(p.deductionInfo, int(res.AboveRate*100+0.5), res.Deduction)
}

func (p prose) bonus(years int, above tax.Money) string {
	return fmt.Sprintf(p.bonusInfo, years, above)
}
