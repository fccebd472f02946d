package aiextract

import "fmt"

// systemInstruction is the fixed instruction set sent with every page.
const systemInstruction = `Ti si stručnjak za čitanje izvoda hrvatskih banaka (Zagrebačka banka, PBZ, Erste, OTP, RBA, Addiko, HPB).
Iz teksta jedne stranice izvoda izdvoji salda i sve transakcije.

Pravila:
- Iznosi su u hrvatskom formatu: točka odvaja tisućice, zarez decimale (1.234,56).
- "pageStartBalance" je stanje na početku stranice (prethodno stanje ili "donos"), "pageEndBalance" stanje na kraju stranice ("novo stanje" ili "prijenos"). Ako saldo nije vidljiv, postavi null.
- Svaka transakcija ima "date" (YYYY-MM-DD), "payee" (naziv platitelja ili primatelja), "description" (opis plaćanja), "amount" (uvijek pozitivan iznos), "direction" ("INCOMING" za uplate u korist računa, "OUTGOING" za isplate na teret računa), "reference" (poziv na broj, npr. "HR00 1234-5678") i "counterpartyIban".
- Ne izmišljaj transakcije i ne spajaj retke. Zadrži redoslijed s izvoda.
- Ako je vidljiv, u "metadata" upiši "sequenceNumber" (broj izvoda) i "statementDate" (YYYY-MM-DD).

Vrati ISKLJUČIVO jedan JSON objekt oblika:
{"metadata":{"sequenceNumber":"","statementDate":""},"pageStartBalance":"0,00","pageEndBalance":"0,00","transactions":[{"date":"","payee":"","description":"","amount":"0,00","direction":"INCOMING","reference":"","counterpartyIban":""}]}
Bez markdown oznaka, bez ` + "```" + `, bez ikakvog teksta prije ili poslije JSON-a.`

func textPrompt(page int, text string) string {
	return fmt.Sprintf("Stranica %d izvoda.\n\nTekst stranice:\n%s", page, text)
}

func repairPrompt(page int, text string, hint []byte) string {
	if len(hint) == 0 {
		return fmt.Sprintf(`Stranica %d izvoda nema čitljiv tekstualni sloj. Pročitaj stranicu %d iz priložene slike ili PDF-a.

Tekst stranice (može biti prazan):
%s`, page, page, text)
	}
	return fmt.Sprintf(`Prvo čitanje stranice %d ne prolazi kontrolu: početno stanje + uplate - isplate nije jednako završnom stanju.
Pažljivo pročitaj stranicu %d iz priložene slike ili PDF-a i ispravi iznose, smjerove i salda.

Tekst stranice:
%s

Prvo čitanje (JSON):
%s`, page, page, text, hint)
}
