// Package command classifies free-form chat text (typed or transcribed) into
// a closed set of command kinds.
//
// Matching is word based and accent-insensitive: "cardápio", "Cardapio" and
// "CARDÁPIO" are the same keyword, and "menu" does not match "menus" or
// "cardapiomenu". Multi-word phrases ("perder peso") are tried before single
// words, and single words in table order. Text that matches nothing is a
// meal description.
//
// Kind.MeteredAction links a command to the plan action it consumes, so the
// caller can run the entitlement gate before doing any work:
//
//	cmd := command.Parse(text)
//	if action, ok := cmd.Kind.MeteredAction(); ok {
//		decision, err := guard.CheckAndReserve(ctx, userID, action, time.Now())
//		...
//	}
package command
