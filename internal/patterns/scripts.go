package patterns

// In-page scripts. Each is a function expression called with a single
// argument and returning JSON.stringify(...) of its result.

// ReadyStateScript reports document.readyState.
const ReadyStateScript = `() => JSON.stringify(document.readyState)`

// PageHTMLScript returns the serialized DOM, including script-injected nodes.
const PageHTMLScript = `() => JSON.stringify(document.documentElement ? document.documentElement.outerHTML : '')`

// DetectScript queries every catalog selector group and describes each
// matching element. Argument: {kinds: [...], groups: {kind: [selectors]}}.
// A selector that throws is reported in errors and skipped.
const DetectScript = `(cfg) => {
	const out = { records: [], errors: [], others: { recaptcha: 0, hcaptcha: 0 } };
	const seen = new Set();
	const keep = ['id', 'name', 'class', 'src', 'title', 'type', 'role', 'for'];
	const textOf = (el) => ((el && (el.innerText || el.textContent)) || '').trim().slice(0, 500);
	const boxOf = (el) => {
		const r = el.getBoundingClientRect();
		return { x: r.x, y: r.y, width: r.width, height: r.height };
	};
	const isVisible = (el) => {
		const r = el.getBoundingClientRect();
		if (r.width === 0 || r.height === 0) return false;
		const s = window.getComputedStyle(el);
		if (s.display === 'none' || s.visibility === 'hidden' || s.opacity === '0') return false;
		return el.offsetParent !== null || s.position === 'fixed';
	};
	for (const kind of cfg.kinds) {
		for (const selector of (cfg.groups[kind] || [])) {
			let nodes;
			try {
				nodes = document.querySelectorAll(selector);
			} catch (e) {
				out.errors.push({ selector: selector, message: String((e && e.message) || e) });
				continue;
			}
			nodes.forEach((el, index) => {
				if (seen.has(el)) return;
				seen.add(el);
				const attrs = {};
				for (const a of Array.from(el.attributes)) {
					if (a.name.startsWith('data-') || keep.includes(a.name)) attrs[a.name] = a.value;
				}
				if ((el.tagName === 'INPUT' || el.tagName === 'TEXTAREA') && el.value) attrs['value'] = el.value;
				let checkbox = null;
				if (el.tagName === 'INPUT' && el.type === 'checkbox') checkbox = el;
				else if (el.querySelector) checkbox = el.querySelector('input[type="checkbox"]');
				const ancestors = [];
				let p = el.parentElement;
				for (let i = 0; i < 5 && p; i++, p = p.parentElement) ancestors.push(textOf(p));
				out.records.push({
					selector: selector,
					index: index,
					kind: kind,
					tag: el.tagName.toLowerCase(),
					attributes: attrs,
					box: boxOf(el),
					visible: isVisible(el),
					text: textOf(el),
					ancestorText: ancestors,
					className: typeof el.className === 'string' ? el.className : (el.getAttribute('class') || ''),
					hasCheckbox: !!checkbox,
					checkboxChecked: !!(checkbox && checkbox.checked),
					checkboxBox: checkbox ? boxOf(checkbox) : null
				});
			});
		}
	}
	out.others.recaptcha = document.querySelectorAll('.g-recaptcha, iframe[src*="recaptcha"]').length;
	out.others.hcaptcha = document.querySelectorAll('.h-captcha, iframe[src*="hcaptcha"]').length;
	return JSON.stringify(out);
}`

// FallbackDetectScript runs broader probes when no catalog selector matched.
// The first probe that fires wins.
const FallbackDetectScript = `() => {
	const res = { found: false, method: '', elements: [] };
	const describe = (el) => ({
		tag: el.tagName ? el.tagName.toLowerCase() : '',
		className: typeof el.className === 'string' ? el.className : '',
		id: el.id || '',
		name: el.getAttribute ? (el.getAttribute('name') || '') : '',
		src: el.src || '',
		sitekey: el.getAttribute ? (el.getAttribute('data-sitekey') || '') : ''
	});
	const hit = (method, els) => {
		res.found = true;
		res.method = method;
		res.elements = Array.from(els).slice(0, 20).map(describe);
		return JSON.stringify(res);
	};

	let els = document.querySelectorAll('[data-sitekey]');
	if (els.length) return hit('data-sitekey', els);

	els = document.querySelectorAll('input[name="cf-turnstile-response"], input[id*="cf-chl-widget"]');
	if (els.length) return hit('response_token', els);

	els = document.querySelectorAll('iframe[src*="challenges.cloudflare.com"], iframe[src*="turnstile"]');
	if (els.length) return hit('iframe', els);

	els = document.querySelectorAll('script[src*="turnstile"], script[src*="challenges.cloudflare.com"]');
	if (els.length) return hit('script', els);

	if (typeof window.turnstile !== 'undefined') return hit('javascript_api', []);
	if (typeof window.onloadTurnstileCallback !== 'undefined') return hit('callback_function', []);

	const body = document.body ? (document.body.textContent || '') : '';
	if (body.includes('turnstile')) {
		els = document.querySelectorAll('[class*="turnstile"], [id*="turnstile"]');
		if (els.length) return hit('text_content', els);
	}

	for (const pattern of ['cf-', 'cloudflare', 'challenge']) {
		for (const el of document.querySelectorAll('[class*="' + pattern + '"], [id*="' + pattern + '"]')) {
			if (el.hasAttribute('data-sitekey') || (el.innerHTML || '').includes('turnstile')) {
				return hit('pattern_match', [el]);
			}
		}
	}
	return JSON.stringify(res);
}`

// NetworkScript lists loaded resources whose URL contains any of the given
// patterns. Argument: [patterns].
const NetworkScript = `(patterns) => {
	if (!window.performance || !window.performance.getEntriesByType) return JSON.stringify([]);
	const hits = window.performance.getEntriesByType('resource')
		.filter((r) => patterns.some((p) => r.name.includes(p)))
		.map((r) => ({ url: r.name, type: r.initiatorType || '' }));
	return JSON.stringify(hits);
}`

// LocateScript scrolls a detected element into view and returns its fresh
// bounding box, or null. Argument: {selector, index}.
const LocateScript = `(cfg) => {
	let el = null;
	try { el = document.querySelectorAll(cfg.selector)[cfg.index] || null; } catch (e) { el = null; }
	if (!el) return JSON.stringify(null);
	el.scrollIntoView({ block: 'center', inline: 'center' });
	const cb = (el.tagName === 'INPUT' && el.type === 'checkbox') ? el : el.querySelector('input[type="checkbox"]');
	const r = (cb || el).getBoundingClientRect();
	return JSON.stringify({ x: r.x, y: r.y, width: r.width, height: r.height });
}`

// RefreshControlScript finds a refresh/retry control inside or around an
// errored widget and returns its box, or null.
// Argument: {selector, index, selectors, texts}. Class and attribute
// selectors match directly; tag selectors must also carry one of the texts.
const RefreshControlScript = `(cfg) => {
	let el = null;
	try { el = document.querySelectorAll(cfg.selector)[cfg.index] || null; } catch (e) { el = null; }
	if (!el) return JSON.stringify(null);
	const texts = cfg.texts.map((t) => t.toLowerCase());
	let scope = el;
	for (let depth = 0; depth < 5 && scope; depth++, scope = scope.parentElement) {
		for (const sel of cfg.selectors) {
			let nodes;
			try { nodes = scope.querySelectorAll(sel); } catch (e) { continue; }
			const direct = sel.startsWith('.') || sel.startsWith('[');
			for (const c of nodes) {
				const r = c.getBoundingClientRect();
				if (r.width === 0 || r.height === 0) continue;
				const text = (c.innerText || c.textContent || '').trim().toLowerCase();
				if (direct || texts.some((t) => text.includes(t))) {
					return JSON.stringify({ x: r.x, y: r.y, width: r.width, height: r.height });
				}
			}
		}
	}
	return JSON.stringify(null);
}`

// InjectFieldsScript writes the token into every Turnstile/captcha response
// field and fires input/change events. Returns the number of fields written.
const InjectFieldsScript = `(token) => {
	const fields = document.querySelectorAll(
		'input[name="cf-turnstile-response"], textarea[name="cf-turnstile-response"], ' +
		'input[name*="turnstile"], input[name*="captcha"], textarea[name*="captcha"]');
	let n = 0;
	fields.forEach((f) => {
		f.value = token;
		f.dispatchEvent(new Event('input', { bubbles: true }));
		f.dispatchEvent(new Event('change', { bubbles: true }));
		n++;
	});
	return JSON.stringify(n);
}`

// InjectAPIScript hands the token to window.turnstile when present.
const InjectAPIScript = `(token) => {
	if (typeof window.turnstile === 'undefined') return JSON.stringify(false);
	let ok = false;
	if (typeof window.turnstile.setResponse === 'function') {
		try { window.turnstile.setResponse('0', token); ok = true; } catch (e) {}
	}
	document.querySelectorAll('.cf-turnstile').forEach((w) => {
		const id = w.getAttribute('data-turnstile-widget-id');
		w.setAttribute('data-turnstile-response', token);
		if (id && window.turnstile.widgets && window.turnstile.widgets[id]) {
			window.turnstile.widgets[id].response = token;
		}
		ok = true;
	});
	const ev = new CustomEvent('turnstile-success', { detail: { token: token } });
	document.dispatchEvent(ev);
	window.dispatchEvent(ev);
	return JSON.stringify(ok);
}`

// InjectCallbackScript invokes the data-callback named by any widget.
const InjectCallbackScript = `(token) => {
	for (const w of document.querySelectorAll('[data-callback]')) {
		const name = w.getAttribute('data-callback');
		if (name && typeof window[name] === 'function') {
			try { window[name](token); return JSON.stringify(true); } catch (e) {}
		}
	}
	return JSON.stringify(false);
}`

// InjectWindowCallbackScript tries commonly used global callback names.
const InjectWindowCallbackScript = `(token) => {
	const names = ['turnstileCallback', 'onTurnstileSuccess', 'handleTurnstile', 'cfCallback',
		'captchaCallback', 'onCaptchaSuccess'];
	for (const name of names) {
		if (typeof window[name] === 'function') {
			try { window[name](token); return JSON.stringify(true); } catch (e) {}
		}
	}
	return JSON.stringify(false);
}`

// SessionIDScript reads the local solving page's session id.
const SessionIDScript = `() => JSON.stringify((document.body && document.body.dataset.sessionId) || '')`

// ResponseTokenScript returns the current solution token from the Turnstile
// API or a response field, or "".
const ResponseTokenScript = `() => {
	if (window.turnstile && typeof window.turnstile.getResponse === 'function') {
		try {
			const t = window.turnstile.getResponse();
			if (t) return JSON.stringify(t);
		} catch (e) {}
	}
	for (const f of document.querySelectorAll('input[name="cf-turnstile-response"], textarea[name="cf-turnstile-response"]')) {
		if (f.value) return JSON.stringify(f.value);
	}
	return JSON.stringify('');
}`
